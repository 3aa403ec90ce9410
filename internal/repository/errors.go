package repository

import (
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/util"
	"fmt"
)

func errInvalidTransition(from, to model.QueueStatus) error {
	return fmt.Errorf("%w: %s -> %s", util.ErrInvalidTransition, from, to)
}
