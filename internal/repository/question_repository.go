package repository

import (
	"context"
	"elevenplus_backend/internal/model"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.DB.WithContext(ctx).Create(q).Error
}

func (r *QuestionRepository) FindByID(ctx context.Context, id uint) (*model.Question, error) {
	var q model.Question
	if err := r.DB.WithContext(ctx).First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// EachCandidateBatch 分批遍历全部候选题（可按知识点过滤，排除最近做过的题），按 id 升序
func (r *QuestionRepository) EachCandidateBatch(ctx context.Context, topicID *uint, excludeIDs []uint, batchSize int, fn func([]model.Question) error) error {
	if batchSize <= 0 {
		batchSize = 200
	}
	query := r.DB.WithContext(ctx).Model(&model.Question{})
	if topicID != nil {
		query = query.Where("topic_id = ?", *topicID)
	}
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}

	var batch []model.Question
	return query.FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}

type AnswerOptionRepository struct {
	DB *gorm.DB
}

func NewAnswerOptionRepository(db *gorm.DB) *AnswerOptionRepository {
	return &AnswerOptionRepository{DB: db}
}

func (r *AnswerOptionRepository) Create(ctx context.Context, opt *model.AnswerOption) error {
	return r.DB.WithContext(ctx).Create(opt).Error
}

// FindByAnswer 按选项字母匹配（不区分大小写），匹配不到再按选项内容匹配；都没有返回 nil, nil
func (r *AnswerOptionRepository) FindByAnswer(ctx context.Context, questionID uint, answer string) (*model.AnswerOption, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, nil
	}

	var opt model.AnswerOption
	err := r.DB.WithContext(ctx).
		Where("question_id = ? AND (UPPER(option_letter) = ? OR value = ?)", questionID, strings.ToUpper(answer), answer).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:  "CASE WHEN UPPER(option_letter) = ? THEN 0 ELSE 1 END, id asc",
			Vars: []interface{}{strings.ToUpper(answer)},
		}}).
		First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &opt, nil
}

// ListByQuestion 按字母顺序返回题目的全部选项
func (r *AnswerOptionRepository) ListByQuestion(ctx context.Context, questionID uint) ([]model.AnswerOption, error) {
	var opts []model.AnswerOption
	err := r.DB.WithContext(ctx).Where("question_id = ?", questionID).Order("option_letter asc").Find(&opts).Error
	return opts, err
}

// QuestionsWithMisconceptionTags 返回给定题目中至少有一个干扰项标注了误区代码的题目 ID 集合
func (r *AnswerOptionRepository) QuestionsWithMisconceptionTags(ctx context.Context, questionIDs []uint) (map[uint]bool, error) {
	result := make(map[uint]bool)
	if len(questionIDs) == 0 {
		return result, nil
	}

	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.AnswerOption{}).
		Where("question_id IN ? AND is_correct = ? AND misconception_code IS NOT NULL AND misconception_code <> ''", questionIDs, false).
		Distinct().
		Pluck("question_id", &ids).Error
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		result[id] = true
	}
	return result, nil
}
