package repository

import (
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/testutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerOptionRepository_FindByAnswer(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAnswerOptionRepository(db)
	ctx := context.Background()

	q := testutil.SeedQuestion(t, db, 1, "fractions", model.DifficultyFoundation, "A", map[string]string{"B": "FRAC_ADD_DENOM"})

	opt, err := repo.FindByAnswer(ctx, q.ID, "b")
	require.NoError(t, err)
	require.NotNil(t, opt)
	assert.Equal(t, "FRAC_ADD_DENOM", model.StringValue(opt.MisconceptionCode))

	opt, err = repo.FindByAnswer(ctx, q.ID, "value C")
	require.NoError(t, err)
	require.NotNil(t, opt)
	assert.Equal(t, "C", opt.OptionLetter)
	assert.Nil(t, opt.MisconceptionCode)

	opt, err = repo.FindByAnswer(ctx, q.ID, "Z")
	require.NoError(t, err)
	assert.Nil(t, opt)

	opt, err = repo.FindByAnswer(ctx, q.ID+100, "B")
	require.NoError(t, err)
	assert.Nil(t, opt)

	// 字母匹配优先于内容匹配
	require.NoError(t, db.Model(&model.AnswerOption{}).
		Where("question_id = ? AND option_letter = ?", q.ID, "A").
		Update("value", "D").Error)
	opt, err = repo.FindByAnswer(ctx, q.ID, "d")
	require.NoError(t, err)
	require.NotNil(t, opt)
	assert.Equal(t, "D", opt.OptionLetter)

	all, err := repo.ListByQuestion(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "A", all[0].OptionLetter)
	assert.True(t, all[0].IsCorrect)
	assert.Equal(t, "D", all[3].OptionLetter)
}

func TestQuestionRepository_EachCandidateBatch(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewQuestionRepository(db)
	opts := NewAnswerOptionRepository(db)
	ctx := context.Background()

	q1 := testutil.SeedQuestion(t, db, 1, "fractions", model.DifficultyFoundation, "A", map[string]string{"B": "FRAC_ADD_DENOM"})
	q2 := testutil.SeedQuestion(t, db, 1, "fractions", model.DifficultyAdvanced, "A", nil)
	q3 := testutil.SeedQuestion(t, db, 2, "ratio", model.DifficultyIntermediate, "C", nil)

	collect := func(topicID *uint, exclude []uint, size int) (ids []uint, batches int) {
		err := repo.EachCandidateBatch(ctx, topicID, exclude, size, func(batch []model.Question) error {
			batches++
			for _, q := range batch {
				ids = append(ids, q.ID)
			}
			return nil
		})
		require.NoError(t, err)
		return ids, batches
	}

	topic := uint(1)
	ids, _ := collect(&topic, []uint{q1.ID}, 10)
	assert.Equal(t, []uint{q2.ID}, ids)

	// 批大小小于题量时也要遍历到全部
	ids, batches := collect(nil, nil, 2)
	assert.Equal(t, []uint{q1.ID, q2.ID, q3.ID}, ids)
	assert.Equal(t, 2, batches)

	tagged, err := opts.QuestionsWithMisconceptionTags(ctx, []uint{q1.ID, q2.ID, q3.ID})
	require.NoError(t, err)
	assert.Equal(t, map[uint]bool{q1.ID: true}, tagged)
}
