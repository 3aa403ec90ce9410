package service

import (
	"bufio"
	"context"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/testutil"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newProcessor(env *testEnv, providers ...LLMProvider) *QueueProcessorService {
	return NewQueueProcessorService(env.Queue, env.Questions, env.Options, env.Cache, NewAIService(providers...), nil, &LocalRunLocker{}, testMisconceptionConfig())
}

func enqueue(t *testing.T, env *testEnv, studentID, questionID uint, code string) *model.MisconceptionQueueItem {
	t.Helper()
	item, err := NewMisconceptionQueueService(env.Queue).Enqueue(context.Background(), EnqueueRequest{
		StudentID:         studentID,
		QuestionID:        questionID,
		StudentAnswer:     "B",
		CorrectAnswer:     "A",
		MisconceptionCode: model.StringPtr(code),
	})
	require.NoError(t, err)
	return item
}

func TestQueueProcessor_EmptyQueue(t *testing.T) {
	env := newTestEnv(t)
	provider := okProvider("deepseek", "x")
	svc := newProcessor(env, provider)

	res, err := svc.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0.0, res.OptimizationRate)
	assert.Zero(t, provider.Calls())
}

func TestQueueProcessor_CacheHitsAndGeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := testutil.SeedQuestion(t, env.DB, 1, "fractions", model.DifficultyFoundation, "A", map[string]string{"B": "FRAC_ADD_DENOM"})

	code := model.StringPtr("FRAC_ADD_DENOM")
	require.NoError(t, env.Cache.Put(ctx, 7, q.ID, code, "cached explanation", "deepseek"))

	hit := enqueue(t, env, 7, q.ID, "FRAC_ADD_DENOM")
	miss := enqueue(t, env, 8, q.ID, "FRAC_ADD_DENOM")

	provider := okProvider("deepseek", "fresh explanation")
	svc := newProcessor(env, provider)

	res, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, 1, res.APICalls)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 50.0, res.OptimizationRate)
	assert.Equal(t, 1, provider.Calls())
	assert.Contains(t, provider.prompts[0], "What is 3/4 of 20?")
	assert.Contains(t, provider.prompts[0], "The pupil answered: B (value B)")
	assert.Contains(t, provider.prompts[0], "The correct answer is: A (value A)")

	got, err := env.Queue.FindByID(ctx, hit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)

	got, err = env.Queue.FindByID(ctx, miss.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
	assert.Equal(t, "deepseek", got.APIUsed)

	text, ok := env.Cache.Get(ctx, 8, q.ID, code)
	require.True(t, ok)
	assert.Equal(t, "fresh explanation", text)

	// 再跑一次，没有可处理的项
	res, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
}

func TestQueueProcessor_FailureAndRetryLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	item := enqueue(t, env, 1, 1, "PV_ZERO")
	primary := failingProvider("deepseek")
	fallback := failingProvider("openai")

	cfg := testMisconceptionConfig()
	cfg.MaxRetries = 2
	svc := NewQueueProcessorService(env.Queue, env.Questions, env.Options, env.Cache, NewAIService(primary, fallback), nil, &LocalRunLocker{}, cfg)

	for run := 1; run <= 3; run++ {
		res, err := svc.ProcessBatch(ctx)
		require.NoError(t, err)
		if run <= 2 {
			assert.Equal(t, 1, res.Failed, "run %d", run)
		} else {
			assert.Equal(t, 0, res.Processed, "retries exhausted")
		}
	}

	got, err := env.Queue.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Contains(t, got.LastError, "all AI providers failed")
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 2, fallback.Calls())

	// 配置热更新后失败项可以继续重试
	cfg.MaxRetries = 3
	svc.SetConfig(cfg)
	svc.AI.SetProviders(okProvider("perplexity", "finally"))
	res, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.APICalls)
}

// cancellingProvider 模拟生成途中批次被取消（关停或调用方断开）
type cancellingProvider struct {
	cancel context.CancelFunc
}

func (p *cancellingProvider) Name() string { return "deepseek" }

func (p *cancellingProvider) Complete(ctx context.Context, system, prompt string) (string, error) {
	p.cancel()
	return "", ctx.Err()
}

func TestQueueProcessor_CancelledBatchStillRecordsFailure(t *testing.T) {
	env := newTestEnv(t)
	item := enqueue(t, env, 1, 1, "FRAC_ADD_DENOM")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newProcessor(env, &cancellingProvider{cancel: cancel})

	res, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	got, err := env.Queue.FindByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)

	svc.AI.SetProviders(okProvider("deepseek", "recovered"))
	res, err = svc.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.APICalls)

	got, err = env.Queue.FindByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
}

func TestQueueProcessor_ReleasesStaleClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := enqueue(t, env, 1, 1, "FRAC_ADD_DENOM")

	// 上一个进程认领后退出，行停在 processing
	ok, err := env.Queue.Claim(ctx, item.ID, model.QueueStatusPending)
	require.NoError(t, err)
	require.True(t, ok)

	provider := okProvider("deepseek", "picked up again")
	svc := newProcessor(env, provider)

	res, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed, "claim is still within lock_ttl")

	require.NoError(t, env.DB.Model(&model.MisconceptionQueueItem{}).Where("id = ?", item.ID).
		UpdateColumn("updated_at", time.Now().Add(-2*testMisconceptionConfig().LockTTL)).Error)

	res, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.APICalls)

	got, err := env.Queue.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestQueueProcessor_CachedButNotCompletedCountsAsAPICall(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	q := testutil.SeedQuestion(t, env.DB, 1, "fractions", model.DifficultyFoundation, "A", map[string]string{"B": "FRAC_ADD_DENOM"})
	item := enqueue(t, env, 3, q.ID, "FRAC_ADD_DENOM")

	// 第一次置为 completed 的写入失败
	failComplete := true
	require.NoError(t, env.DB.Callback().Update().Before("gorm:update").Register("test:fail_complete", func(tx *gorm.DB) {
		if m, ok := tx.Statement.Dest.(map[string]interface{}); ok && failComplete && m["status"] == model.QueueStatusCompleted {
			failComplete = false
			_ = tx.AddError(errors.New("connection reset"))
		}
	}))

	provider := okProvider("deepseek", "generated once")
	svc := newProcessor(env, provider)

	res, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.APICalls)
	assert.Equal(t, 0, res.Failed)

	got, err := env.Queue.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusProcessing, got.Status)

	require.NoError(t, env.DB.Model(&model.MisconceptionQueueItem{}).Where("id = ?", item.ID).
		UpdateColumn("updated_at", time.Now().Add(-2*testMisconceptionConfig().LockTTL)).Error)

	res, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.CacheHits)
	assert.Equal(t, 0, res.APICalls)
	assert.Equal(t, 1, provider.Calls())

	got, err = env.Queue.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)
}

func TestQueueProcessor_PriorityAndBatchSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var noCode []*model.MisconceptionQueueItem
	for i := 0; i < 3; i++ {
		noCode = append(noCode, enqueue(t, env, uint(10+i), 1, ""))
	}
	withCode := enqueue(t, env, 20, 1, "FR1")

	cfg := testMisconceptionConfig()
	cfg.BatchSize = 2
	provider := okProvider("deepseek", "ok")
	svc := NewQueueProcessorService(env.Queue, env.Questions, env.Options, env.Cache, NewAIService(provider), nil, &LocalRunLocker{}, cfg)

	res, err := svc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	got, err := env.Queue.FindByID(ctx, withCode.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)

	got, err = env.Queue.FindByID(ctx, noCode[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusCompleted, got.Status)

	got, err = env.Queue.FindByID(ctx, noCode[2].ID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStatusPending, got.Status)
}

func TestQueueProcessor_SkipsWhenLocked(t *testing.T) {
	env := newTestEnv(t)
	enqueue(t, env, 1, 1, "FR1")
	provider := okProvider("deepseek", "x")

	svc := NewQueueProcessorService(env.Queue, env.Questions, env.Options, env.Cache, NewAIService(provider), nil, heldLocker{}, testMisconceptionConfig())
	res, err := svc.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, res.Processed)
	assert.Zero(t, provider.Calls())
}

func TestLocalRunLocker(t *testing.T) {
	l := &LocalRunLocker{}
	release, ok, err := l.TryLock(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(context.Background(), "k", time.Minute)
	assert.False(t, ok)

	release()
	_, ok, _ = l.TryLock(context.Background(), "k", time.Minute)
	assert.True(t, ok)
}

func TestQueueProcessor_RetentionSweepArchives(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	old := enqueue(t, env, 1, 1, "FR1")
	ok, err := env.Queue.Claim(ctx, old.ID, model.QueueStatusPending)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, env.Queue.MarkCompleted(ctx, old.ID, "deepseek"))
	require.NoError(t, env.DB.Model(&model.MisconceptionQueueItem{}).
		Where("id = ?", old.ID).
		Update("processed_at", time.Now().Add(-10*24*time.Hour)).Error)

	dir := t.TempDir()
	cfg := testMisconceptionConfig()
	cfg.ArchiveEnabled = true
	storage := &StorageService{Provider: &LocalStorageProvider{Root: dir}}
	svc := NewQueueProcessorService(env.Queue, env.Questions, env.Options, env.Cache, NewAIService(), storage, &LocalRunLocker{}, cfg)

	_, err = svc.ProcessBatch(ctx)
	require.NoError(t, err)

	_, err = env.Queue.FindByID(ctx, old.ID)
	assert.Error(t, err, "archived row should be deleted")

	files, err := filepath.Glob(filepath.Join(dir, "misconception-queue", "*", "*.jsonl"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	assert.True(t, strings.Contains(scanner.Text(), `"apiUsed":"deepseek"`))
	assert.False(t, scanner.Scan())
}

func TestQueueProcessor_Stats(t *testing.T) {
	env := newTestEnv(t)
	enqueue(t, env, 1, 1, "FR1")
	enqueue(t, env, 2, 1, "")

	svc := newProcessor(env)
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(0), stats.CacheSize)
	assert.GreaterOrEqual(t, stats.OldestPendingAge, 0.0)
}
