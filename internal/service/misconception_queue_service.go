package service

import (
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/pkg/logger"

	"go.uber.org/zap"
)

type EnqueueRequest struct {
	StudentID         uint
	QuestionID        uint
	StudentAnswer     string
	CorrectAnswer     string
	MisconceptionCode *string
}

type MisconceptionQueueService struct {
	Repo *repository.MisconceptionQueueRepository
}

func NewMisconceptionQueueService(repo *repository.MisconceptionQueueRepository) *MisconceptionQueueService {
	return &MisconceptionQueueService{Repo: repo}
}

// Enqueue 不去重，同一错误重复提交会产生多条记录
func (s *MisconceptionQueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*model.MisconceptionQueueItem, error) {
	priority := model.PriorityNoMisconception
	if model.StringValue(req.MisconceptionCode) != "" {
		priority = model.PriorityWithMisconception
	}

	item := &model.MisconceptionQueueItem{
		StudentID:         req.StudentID,
		QuestionID:        req.QuestionID,
		StudentAnswer:     req.StudentAnswer,
		CorrectAnswer:     req.CorrectAnswer,
		MisconceptionCode: model.StringPtr(model.StringValue(req.MisconceptionCode)),
		Priority:          priority,
		Status:            model.QueueStatusPending,
		RetryCount:        0,
	}
	if err := s.Repo.Create(ctx, item); err != nil {
		return nil, err
	}

	logger.Log.Debug("Misconception queued",
		zap.Uint("itemID", item.ID),
		zap.Uint("studentID", req.StudentID),
		zap.Uint("questionID", req.QuestionID),
		zap.Int("priority", priority),
	)
	return item, nil
}

type QueueStats struct {
	Pending          int64   `json:"pending"`
	Processing       int64   `json:"processing"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	OldestPendingAge float64 `json:"oldestPendingAgeSeconds"`
	CacheSize        int64   `json:"cacheSize"`
}
