package testutil

import (
	"context"
	"elevenplus_backend/internal/model"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SeedQuestion 建一道四选一的题，wrong 为 干扰项字母 -> 误区代码（空串表示无标注）
func SeedQuestion(t *testing.T, db *gorm.DB, topicID uint, topic string, difficulty model.Difficulty, correct string, wrong map[string]string) *model.Question {
	t.Helper()
	ctx := context.Background()

	q := &model.Question{
		TopicID:       topicID,
		Topic:         topic,
		Subject:       "maths",
		Difficulty:    difficulty,
		Stem:          "What is 3/4 of 20?",
		CorrectAnswer: correct,
	}
	require.NoError(t, db.WithContext(ctx).Create(q).Error)

	for _, letter := range []string{"A", "B", "C", "D"} {
		opt := &model.AnswerOption{
			QuestionID:   q.ID,
			OptionLetter: letter,
			Value:        "value " + letter,
			IsCorrect:    letter == correct,
		}
		if code, ok := wrong[letter]; ok && code != "" {
			opt.MisconceptionCode = model.StringPtr(code)
			opt.DetectionConfidence = 0.8
		}
		require.NoError(t, db.WithContext(ctx).Create(opt).Error)
	}
	return q
}

func SeedStudent(t *testing.T, db *gorm.DB, email string) *model.User {
	t.Helper()
	u := &model.User{Name: "Pupil", Email: email, Password: "x", Role: model.Student, YearGroup: 5}
	require.NoError(t, db.Create(u).Error)
	return u
}
