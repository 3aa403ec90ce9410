package repository

import (
	"context"
	"elevenplus_backend/internal/model"
	"sort"
	"time"

	"gorm.io/gorm"
)

type ResponseRepository struct {
	DB *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{DB: db}
}

func (r *ResponseRepository) Create(ctx context.Context, resp *model.StudentResponse) error {
	if resp.AnsweredAt.IsZero() {
		resp.AnsweredAt = time.Now()
	}
	return r.DB.WithContext(ctx).Create(resp).Error
}

// RecentByStudent 最近 limit 条作答，按时间倒序
func (r *ResponseRepository) RecentByStudent(ctx context.Context, studentID uint, limit int) ([]model.StudentResponse, error) {
	var rows []model.StudentResponse
	err := r.DB.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("answered_at desc, id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *ResponseRepository) AnsweredQuestionIDsSince(ctx context.Context, studentID uint, since time.Time) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.StudentResponse{}).
		Where("student_id = ? AND answered_at >= ?", studentID, since).
		Distinct().
		Pluck("question_id", &ids).Error
	return ids, err
}

// MisconceptionFrequency 某学生某误区的累计出现次数及涉及的知识点
type MisconceptionFrequency struct {
	Code      string
	Frequency int
	Topics    []string
}

type codeTopicCount struct {
	MisconceptionCode string
	Topic             string
	Cnt               int
}

// MisconceptionFrequencies 聚合学生所有错误作答中的误区出现次数，结果按 code 排序
func (r *ResponseRepository) MisconceptionFrequencies(ctx context.Context, studentID uint) ([]MisconceptionFrequency, error) {
	var rows []codeTopicCount
	err := r.DB.WithContext(ctx).Model(&model.StudentResponse{}).
		Select("misconception_code, topic, COUNT(*) as cnt").
		Where("student_id = ? AND is_correct = ? AND misconception_code IS NOT NULL AND misconception_code <> ''", studentID, false).
		Group("misconception_code, topic").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byCode := make(map[string]*MisconceptionFrequency)
	for _, row := range rows {
		f, ok := byCode[row.MisconceptionCode]
		if !ok {
			f = &MisconceptionFrequency{Code: row.MisconceptionCode}
			byCode[row.MisconceptionCode] = f
		}
		f.Frequency += row.Cnt
		if row.Topic != "" {
			f.Topics = append(f.Topics, row.Topic)
		}
	}

	out := make([]MisconceptionFrequency, 0, len(byCode))
	for _, f := range byCode {
		sort.Strings(f.Topics)
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}
