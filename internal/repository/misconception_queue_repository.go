package repository

import (
	"context"
	"elevenplus_backend/internal/model"
	"errors"
	"time"

	"gorm.io/gorm"
)

type MisconceptionQueueRepository struct {
	DB *gorm.DB
}

func NewMisconceptionQueueRepository(db *gorm.DB) *MisconceptionQueueRepository {
	return &MisconceptionQueueRepository{DB: db}
}

func (r *MisconceptionQueueRepository) Create(ctx context.Context, item *model.MisconceptionQueueItem) error {
	return r.DB.WithContext(ctx).Create(item).Error
}

func (r *MisconceptionQueueRepository) FindByID(ctx context.Context, id uint) (*model.MisconceptionQueueItem, error) {
	var item model.MisconceptionQueueItem
	if err := r.DB.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// ListClaimable 待处理项：pending，或重试次数未达上限的 failed；优先级高的在前，同优先级先进先出
func (r *MisconceptionQueueRepository) ListClaimable(ctx context.Context, maxRetries, limit int) ([]model.MisconceptionQueueItem, error) {
	var items []model.MisconceptionQueueItem
	err := r.DB.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry_count < ?)", model.QueueStatusPending, model.QueueStatusFailed, maxRetries).
		Order("priority desc, created_at asc, id asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// Claim 条件更新认领：只有当前状态仍为 from 时才置为 processing，返回是否认领成功
func (r *MisconceptionQueueRepository) Claim(ctx context.Context, id uint, from model.QueueStatus) (bool, error) {
	if !from.CanTransition(model.QueueStatusProcessing) {
		return false, errInvalidTransition(from, model.QueueStatusProcessing)
	}
	res := r.DB.WithContext(ctx).Model(&model.MisconceptionQueueItem{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     model.QueueStatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *MisconceptionQueueRepository) MarkCompleted(ctx context.Context, id uint, apiUsed string) error {
	now := time.Now()
	return r.finish(ctx, id, map[string]interface{}{
		"status":       model.QueueStatusCompleted,
		"api_used":     apiUsed,
		"last_error":   "",
		"processed_at": now,
		"updated_at":   now,
	})
}

func (r *MisconceptionQueueRepository) MarkFailed(ctx context.Context, id uint, reason string) error {
	now := time.Now()
	return r.finish(ctx, id, map[string]interface{}{
		"status":       model.QueueStatusFailed,
		"retry_count":  gorm.Expr("retry_count + 1"),
		"last_error":   reason,
		"processed_at": now,
		"updated_at":   now,
	})
}

// finish 只允许从 processing 结束，防止状态回退
func (r *MisconceptionQueueRepository) finish(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := r.DB.WithContext(ctx).Model(&model.MisconceptionQueueItem{}).
		Where("id = ? AND status = ?", id, model.QueueStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errInvalidTransition(model.QueueStatusProcessing, updates["status"].(model.QueueStatus))
	}
	return nil
}

// ReleaseStaleClaims 认领后超过 cutoff 仍未结束的 processing 项（进程退出或结束写入失败）记为失败，计一次重试
func (r *MisconceptionQueueRepository) ReleaseStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Model(&model.MisconceptionQueueItem{}).
		Where("status = ? AND updated_at < ?", model.QueueStatusProcessing, cutoff).
		UpdateColumns(map[string]interface{}{
			"status":      model.QueueStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  "claim expired before the item was finished",
			"updated_at":  time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *MisconceptionQueueRepository) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.MisconceptionQueueItem, error) {
	var items []model.MisconceptionQueueItem
	err := r.DB.WithContext(ctx).
		Where("status = ? AND processed_at < ?", model.QueueStatusCompleted, cutoff).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *MisconceptionQueueRepository) DeleteByIDs(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.DB.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, model.QueueStatusCompleted).
		Delete(&model.MisconceptionQueueItem{})
	return res.RowsAffected, res.Error
}

// DeleteCompletedBefore 保留期清理，只删除已完成的行
func (r *MisconceptionQueueRepository) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).
		Where("status = ? AND processed_at < ?", model.QueueStatusCompleted, cutoff).
		Delete(&model.MisconceptionQueueItem{})
	return res.RowsAffected, res.Error
}

type statusCount struct {
	Status model.QueueStatus
	Cnt    int64
}

func (r *MisconceptionQueueRepository) CountByStatus(ctx context.Context) (map[model.QueueStatus]int64, error) {
	var rows []statusCount
	err := r.DB.WithContext(ctx).Model(&model.MisconceptionQueueItem{}).
		Select("status, COUNT(*) as cnt").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[model.QueueStatus]int64{
		model.QueueStatusPending:    0,
		model.QueueStatusProcessing: 0,
		model.QueueStatusCompleted:  0,
		model.QueueStatusFailed:     0,
	}
	for _, row := range rows {
		out[row.Status] = row.Cnt
	}
	return out, nil
}

func (r *MisconceptionQueueRepository) OldestPending(ctx context.Context) (*model.MisconceptionQueueItem, error) {
	var item model.MisconceptionQueueItem
	err := r.DB.WithContext(ctx).
		Where("status = ?", model.QueueStatusPending).
		Order("created_at asc, id asc").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
