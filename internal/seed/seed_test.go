package seed

import (
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const sample = `
users:
  - name: Ms Patel
    email: Teacher@Example.com
    password: s3cret-pass
    role: teacher
questions:
  - topic_id: 1
    topic: fractions
    difficulty: foundation
    stem: "What is 1/4 + 1/4?"
    correct_answer: b
    options:
      - {letter: a, value: "2/8", misconception_code: FRAC_ADD_DENOM, detection_confidence: 0.85}
      - {letter: b, value: "1/2"}
      - {letter: c, value: "1/8"}
`

func TestParseValidation(t *testing.T) {
	_, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = Parse([]byte(`
questions:
  - stem: x
    correct_answer: D
    options: [{letter: A}]
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
questions:
  - stem: x
    correct_answer: A
    options: [{letter: A, misconception_code: OOPS}]
`))
	assert.Error(t, err)

	_, err = Parse([]byte(`
users:
  - {email: a@b.c, password: x, role: superuser}
`))
	assert.Error(t, err)
}

func TestApplyIsIdempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()
	data, err := Parse([]byte(sample))
	require.NoError(t, err)

	stats, err := Apply(ctx, db, data)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsersCreated)
	assert.Equal(t, 1, stats.QuestionsCreated)
	assert.Equal(t, 3, stats.Options)

	var user model.User
	require.NoError(t, db.Where("email = ?", "teacher@example.com").First(&user).Error)
	assert.Equal(t, model.Teacher, user.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("s3cret-pass")))

	var opt model.AnswerOption
	require.NoError(t, db.Where("option_letter = ?", "A").First(&opt).Error)
	assert.Equal(t, "FRAC_ADD_DENOM", model.StringValue(opt.MisconceptionCode))
	assert.False(t, opt.IsCorrect)

	data.Questions[0].Options[0].DetectionConfidence = 0.9
	stats, err = Apply(ctx, db, data)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsersSkipped)
	assert.Equal(t, 1, stats.QuestionsUpdated)

	var count int64
	db.Model(&model.Question{}).Count(&count)
	assert.Equal(t, int64(1), count)
	db.Model(&model.AnswerOption{}).Count(&count)
	assert.Equal(t, int64(3), count)

	require.NoError(t, db.Where("option_letter = ?", "A").First(&opt).Error)
	assert.InDelta(t, 0.9, opt.DetectionConfidence, 1e-9)
}
