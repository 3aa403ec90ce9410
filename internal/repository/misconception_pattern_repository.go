package repository

import (
	"context"
	"elevenplus_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MisconceptionPatternRepository struct {
	DB *gorm.DB
}

func NewMisconceptionPatternRepository(db *gorm.DB) *MisconceptionPatternRepository {
	return &MisconceptionPatternRepository{DB: db}
}

// Upsert 以 (student_id, misconception_code) 为键覆盖写入
func (r *MisconceptionPatternRepository) Upsert(ctx context.Context, records []model.MisconceptionPatternRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "student_id"}, {Name: "misconception_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"frequency", "severity", "pattern_type", "trend", "topics", "analyzed_at",
		}),
	}).Create(&records).Error
}

func (r *MisconceptionPatternRepository) ListByStudent(ctx context.Context, studentID uint) ([]model.MisconceptionPatternRecord, error) {
	var records []model.MisconceptionPatternRecord
	err := r.DB.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("frequency desc, misconception_code asc").
		Find(&records).Error
	return records, err
}
