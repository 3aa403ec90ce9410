package service

import (
	"fmt"
	"time"
)

// ErrRateLimit 提供方返回 429
type ErrRateLimit struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *ErrRateLimit) Error() string {
	return fmt.Sprintf("%s rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *ErrRateLimit) Unwrap() error { return e.Err }

// ErrProviderUnavailable 提供方不可达或 5xx
type ErrProviderUnavailable struct {
	Provider string
	Err      error
}

func (e *ErrProviderUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
	}
	return e.Provider + " unavailable"
}

func (e *ErrProviderUnavailable) Unwrap() error { return e.Err }

// ErrInvalidResponse 返回内容为空或无法使用
type ErrInvalidResponse struct {
	Provider string
	Err      error
}

func (e *ErrInvalidResponse) Error() string {
	return fmt.Sprintf("invalid response from %s: %v", e.Provider, e.Err)
}

func (e *ErrInvalidResponse) Unwrap() error { return e.Err }
