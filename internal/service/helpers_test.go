package service

import (
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/testutil"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
)

type fakeProvider struct {
	mu      sync.Mutex
	name    string
	reply   string
	err     error
	calls   int
	prompts []string
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func okProvider(name, reply string) *fakeProvider {
	return &fakeProvider{name: name, reply: reply}
}

func failingProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, err: &ErrProviderUnavailable{Provider: name, Err: errors.New("boom")}}
}

// heldLocker 模拟另一个处理器正持有锁
type heldLocker struct{}

func (heldLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return nil, false, nil
}

type testEnv struct {
	DB        *gorm.DB
	Questions *repository.QuestionRepository
	Options   *repository.AnswerOptionRepository
	Responses *repository.ResponseRepository
	Queue     *repository.MisconceptionQueueRepository
	CacheRepo *repository.ExplanationCacheRepository
	Patterns  *repository.MisconceptionPatternRepository
	Cache     *ExplanationCacheService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewTestDB(t)
	cacheRepo := repository.NewExplanationCacheRepository(db)
	return &testEnv{
		DB:        db,
		Questions: repository.NewQuestionRepository(db),
		Options:   repository.NewAnswerOptionRepository(db),
		Responses: repository.NewResponseRepository(db),
		Queue:     repository.NewMisconceptionQueueRepository(db),
		CacheRepo: cacheRepo,
		Patterns:  repository.NewMisconceptionPatternRepository(db),
		Cache:     NewExplanationCacheService(cacheRepo, 30*24*time.Hour),
	}
}

func testMisconceptionConfig() config.MisconceptionConfig {
	return config.MisconceptionConfig{
		BatchSize:  10,
		MaxRetries: 3,
		Retention:  7 * 24 * time.Hour,
		LockTTL:    time.Minute,
	}
}

func testAdaptiveConfig() config.AdaptiveConfig {
	return config.AdaptiveConfig{
		HistorySize:         50,
		RecentDays:          7,
		DefaultCount:        10,
		ConfidenceThreshold: 0.7,
		AccuracyThreshold:   0.6,
		MinWeight:           0.05,
		MaxWeight:           10,
		CandidateBatchSize:  200,
	}
}
