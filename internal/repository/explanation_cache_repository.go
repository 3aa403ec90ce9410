package repository

import (
	"context"
	"elevenplus_backend/internal/model"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ExplanationCacheRepository struct {
	DB *gorm.DB
}

func NewExplanationCacheRepository(db *gorm.DB) *ExplanationCacheRepository {
	return &ExplanationCacheRepository{DB: db}
}

// FindByKey 未命中返回 nil, nil
func (r *ExplanationCacheRepository) FindByKey(ctx context.Context, key string) (*model.ExplanationCacheEntry, error) {
	var entry model.ExplanationCacheEntry
	err := r.DB.WithContext(ctx).Where("cache_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Touch 命中计数 +1 并刷新最近访问时间
func (r *ExplanationCacheRepository) Touch(ctx context.Context, id uint, at time.Time) error {
	return r.DB.WithContext(ctx).Model(&model.ExplanationCacheEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"usage_count":   gorm.Expr("usage_count + ?", 1),
			"last_accessed": at,
		}).Error
}

// Upsert 同一个 cache_key 只保留一条，后写覆盖解释内容
func (r *ExplanationCacheRepository) Upsert(ctx context.Context, entry *model.ExplanationCacheEntry) error {
	return r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"explanation", "api_used", "last_accessed"}),
	}).Create(entry).Error
}

func (r *ExplanationCacheRepository) DeleteNotAccessedSince(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("last_accessed < ?", cutoff).
		Delete(&model.ExplanationCacheEntry{})
	return res.RowsAffected, res.Error
}

func (r *ExplanationCacheRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&model.ExplanationCacheEntry{}).Count(&n).Error
	return n, err
}
