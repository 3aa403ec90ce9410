package service

import (
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/pkg/logger"
	"elevenplus_backend/pkg/monitoring"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type ExplanationCacheService struct {
	Repo *repository.ExplanationCacheRepository

	ttl atomic.Int64 // time.Duration，0 表示不淘汰
	now func() time.Time
}

func NewExplanationCacheService(repo *repository.ExplanationCacheRepository, ttl time.Duration) *ExplanationCacheService {
	s := &ExplanationCacheService{Repo: repo, now: time.Now}
	s.ttl.Store(int64(ttl))
	return s
}

// CacheKey 形如 "12:345:FRAC_ADD_DENOM"，无误区代码时为 "12:345:none"
func CacheKey(studentID, questionID uint, code *string) string {
	c := "none"
	if code != nil && *code != "" {
		c = *code
	}
	return fmt.Sprintf("%d:%d:%s", studentID, questionID, c)
}

// Get 命中时使用次数 +1 并刷新访问时间；查询出错按未命中处理
func (s *ExplanationCacheService) Get(ctx context.Context, studentID, questionID uint, code *string) (string, bool) {
	key := CacheKey(studentID, questionID, code)
	entry, err := s.Repo.FindByKey(ctx, key)
	if err != nil {
		logger.Log.Warn("Explanation cache lookup failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if entry == nil {
		return "", false
	}

	if err := s.Repo.Touch(ctx, entry.ID, s.now()); err != nil {
		logger.Log.Warn("Failed to update cache usage", zap.String("key", key), zap.Error(err))
	}
	monitoring.ExplanationCacheHits.Inc()
	return entry.Explanation, true
}

func (s *ExplanationCacheService) Put(ctx context.Context, studentID, questionID uint, code *string, explanation, apiUsed string) error {
	return s.Repo.Upsert(ctx, &model.ExplanationCacheEntry{
		CacheKey:          CacheKey(studentID, questionID, code),
		StudentID:         studentID,
		QuestionID:        questionID,
		MisconceptionCode: code,
		Explanation:       explanation,
		APIUsed:           apiUsed,
		LastAccessed:      s.now(),
	})
}

// Sweep 淘汰超过 TTL 未被访问的条目
func (s *ExplanationCacheService) Sweep(ctx context.Context) (int64, error) {
	ttl := time.Duration(s.ttl.Load())
	if ttl <= 0 {
		return 0, nil
	}
	n, err := s.Repo.DeleteNotAccessedSince(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Log.Info("Explanation cache swept", zap.Int64("removed", n), zap.Duration("ttl", ttl))
	}
	return n, nil
}

func (s *ExplanationCacheService) SetTTL(ttl time.Duration) {
	s.ttl.Store(int64(ttl))
}

func (s *ExplanationCacheService) Size(ctx context.Context) (int64, error) {
	return s.Repo.Count(ctx)
}
