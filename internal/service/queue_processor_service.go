package service

import (
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/model"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/util"
	"elevenplus_backend/pkg/logger"
	"elevenplus_backend/pkg/monitoring"
	"elevenplus_backend/pkg/tracing"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunLocker 保证同一时刻只有一个处理器在跑批
type RunLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// LocalRunLocker 未配置 Redis 时的进程内锁，只能防止本进程内的重叠
type LocalRunLocker struct {
	mu sync.Mutex
}

func (l *LocalRunLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// ProcessResult 跑批结果，字段名与定时任务调用方约定一致
type ProcessResult struct {
	Success          bool    `json:"success"`
	Processed        int     `json:"processed"`
	APICalls         int     `json:"apiCalls"`
	CacheHits        int     `json:"cacheHits"`
	Failed           int     `json:"failed"`
	OptimizationRate float64 `json:"optimizationRate"`
	Skipped          bool    `json:"skipped,omitempty"`
}

type QueueProcessorService struct {
	Queue     *repository.MisconceptionQueueRepository
	Questions *repository.QuestionRepository
	Options   *repository.AnswerOptionRepository
	Cache     *ExplanationCacheService
	AI        *AIService
	Storage   *StorageService
	Locker    RunLocker

	mu  sync.RWMutex
	cfg config.MisconceptionConfig
	now func() time.Time
}

func NewQueueProcessorService(
	queue *repository.MisconceptionQueueRepository,
	questions *repository.QuestionRepository,
	options *repository.AnswerOptionRepository,
	cache *ExplanationCacheService,
	ai *AIService,
	storage *StorageService,
	locker RunLocker,
	cfg config.MisconceptionConfig,
) *QueueProcessorService {
	if locker == nil {
		locker = &LocalRunLocker{}
	}
	return &QueueProcessorService{
		Queue:     queue,
		Questions: questions,
		Options:   options,
		Cache:     cache,
		AI:        ai,
		Storage:   storage,
		Locker:    locker,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetConfig 配置热更新
func (s *QueueProcessorService) SetConfig(cfg config.MisconceptionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

func (s *QueueProcessorService) settings() config.MisconceptionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ProcessBatch 认领一批待处理项逐个生成解释；单项失败不影响整批
func (s *QueueProcessorService) ProcessBatch(ctx context.Context) (*ProcessResult, error) {
	cfg := s.settings()
	runID := uuid.NewString()
	log := logger.Log.With(zap.String("runID", runID))

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	release, ok, err := s.Locker.TryLock(ctx, util.QueueProcessorLockKey, lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Info("Queue processor already running, skipping")
		return &ProcessResult{Success: true, Skipped: true}, nil
	}
	defer release()

	ctx, span := tracing.Tracer.Start(ctx, "misconception.process_batch")
	defer span.End()
	start := s.now()
	defer func() { monitoring.QueueBatchDuration.Observe(time.Since(start).Seconds()) }()

	if n, err := s.Queue.ReleaseStaleClaims(ctx, s.now().Add(-lockTTL)); err != nil {
		log.Warn("Failed to release stale queue claims", zap.Error(err))
	} else if n > 0 {
		log.Warn("Released stale queue claims", zap.Int64("count", n))
	}

	items, err := s.Queue.ListClaimable(ctx, cfg.MaxRetries, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &ProcessResult{Success: true}
	for i := range items {
		if ctx.Err() != nil {
			log.Warn("Queue batch interrupted", zap.Error(ctx.Err()))
			break
		}
		item := &items[i]

		claimed, err := s.Queue.Claim(ctx, item.ID, item.Status)
		if err != nil {
			log.Warn("Failed to claim queue item", zap.Uint("itemID", item.ID), zap.Error(err))
			continue
		}
		if !claimed {
			log.Debug("Queue item taken by another worker", zap.Uint("itemID", item.ID))
			continue
		}

		result.Processed++
		switch s.processItem(ctx, log, item) {
		case outcomeCacheHit:
			result.CacheHits++
		case outcomeGenerated:
			result.APICalls++
		default:
			result.Failed++
		}
	}

	if result.Processed > 0 {
		result.OptimizationRate = util.Round1(float64(result.CacheHits) / float64(result.Processed) * 100)
	}

	s.sweepCompleted(ctx, log, cfg)

	span.SetAttributes(
		attribute.Int("queue.processed", result.Processed),
		attribute.Int("queue.cache_hits", result.CacheHits),
		attribute.Int("queue.failed", result.Failed),
	)
	if result.Processed > 0 {
		log.Info("Queue batch finished",
			zap.Int("processed", result.Processed),
			zap.Int("apiCalls", result.APICalls),
			zap.Int("cacheHits", result.CacheHits),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

type itemOutcome string

const (
	outcomeCacheHit  itemOutcome = "cache_hit"
	outcomeGenerated itemOutcome = "generated"
	outcomeFailed    itemOutcome = "failed"
)

func (s *QueueProcessorService) processItem(ctx context.Context, log *zap.Logger, item *model.MisconceptionQueueItem) itemOutcome {
	outcome := s.resolveItem(ctx, log, item)
	monitoring.QueueItemsProcessed.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// finishTimeout 结束写入脱离批次 ctx，关停或调用方断开时也要落库
const finishTimeout = 5 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
}

func (s *QueueProcessorService) resolveItem(ctx context.Context, log *zap.Logger, item *model.MisconceptionQueueItem) itemOutcome {
	if _, ok := s.Cache.Get(ctx, item.StudentID, item.QuestionID, item.MisconceptionCode); ok {
		fctx, cancel := detached(ctx)
		defer cancel()
		if err := s.Queue.MarkCompleted(fctx, item.ID, "cache"); err != nil {
			log.Error("Failed to complete cached queue item", zap.Uint("itemID", item.ID), zap.Error(err))
			return outcomeFailed
		}
		return outcomeCacheHit
	}

	mistake := MistakeContext{
		StudentAnswer: item.StudentAnswer,
		CorrectAnswer: item.CorrectAnswer,
		Misconception: model.StringValue(item.MisconceptionCode),
	}
	if q, err := s.Questions.FindByID(ctx, item.QuestionID); err == nil {
		mistake.Question = q.Stem
		mistake.Topic = q.Topic
	}
	s.describeOptions(ctx, item.QuestionID, &mistake)

	explanation, provider, err := s.AI.Generate(ctx, explanationSystemPrompt, buildMistakePrompt(mistake))
	fctx, cancel := detached(ctx)
	defer cancel()
	if err != nil {
		log.Warn("Explanation generation failed",
			zap.Uint("itemID", item.ID),
			zap.Int("retryCount", item.RetryCount),
			zap.Error(err),
		)
		if markErr := s.Queue.MarkFailed(fctx, item.ID, err.Error()); markErr != nil {
			log.Error("Failed to mark queue item failed", zap.Uint("itemID", item.ID), zap.Error(markErr))
		}
		return outcomeFailed
	}

	cached := true
	if err := s.Cache.Put(fctx, item.StudentID, item.QuestionID, item.MisconceptionCode, explanation, provider); err != nil {
		cached = false
		log.Error("Failed to cache explanation", zap.Uint("itemID", item.ID), zap.Error(err))
	}
	if err := s.Queue.MarkCompleted(fctx, item.ID, provider); err != nil {
		log.Error("Failed to complete queue item", zap.Uint("itemID", item.ID), zap.Error(err))
		// 解释已入缓存：计入 apiCalls，行由过期认领回收后下一轮按缓存命中完成
		if cached {
			return outcomeGenerated
		}
		return outcomeFailed
	}
	return outcomeGenerated
}

// describeOptions 把选项字母展开成 "B (2/8)"，模型看得到具体数值
func (s *QueueProcessorService) describeOptions(ctx context.Context, questionID uint, m *MistakeContext) {
	if s.Options == nil {
		return
	}
	opts, err := s.Options.ListByQuestion(ctx, questionID)
	if err != nil {
		return
	}
	values := make(map[string]string, len(opts))
	for _, o := range opts {
		values[strings.ToUpper(o.OptionLetter)] = o.Value
	}
	expand := func(answer string) string {
		if v, ok := values[strings.ToUpper(answer)]; ok && v != "" && v != answer {
			return fmt.Sprintf("%s (%s)", answer, v)
		}
		return answer
	}
	m.StudentAnswer = expand(m.StudentAnswer)
	m.CorrectAnswer = expand(m.CorrectAnswer)
}

const sweepPageSize = 500

// sweepCompleted 删除超过保留期的已完成项；开启归档时先写入存储，归档失败则本次不删
func (s *QueueProcessorService) sweepCompleted(ctx context.Context, log *zap.Logger, cfg config.MisconceptionConfig) {
	if cfg.Retention <= 0 {
		return
	}
	cutoff := s.now().Add(-cfg.Retention)

	if !cfg.ArchiveEnabled || s.Storage == nil {
		n, err := s.Queue.DeleteCompletedBefore(ctx, cutoff)
		if err != nil {
			log.Error("Queue retention sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("Queue retention sweep", zap.Int64("deleted", n))
		}
		return
	}

	rows, err := s.Queue.ListCompletedBefore(ctx, cutoff, sweepPageSize)
	if err != nil {
		log.Error("Queue retention sweep failed", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	object, location, err := ArchiveJSONLines(ctx, s.Storage, "misconception-queue", rows)
	if err != nil {
		log.Error("Failed to archive completed queue items", zap.Error(err))
		return
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	n, err := s.Queue.DeleteByIDs(ctx, ids)
	if err != nil {
		log.Error("Failed to delete archived queue items", zap.Error(err))
		// 行还在，下次会重新归档；删掉这份避免重复
		if rmErr := s.Storage.Provider.Delete(ctx, object); rmErr != nil {
			log.Warn("Failed to remove orphaned archive", zap.String("object", object), zap.Error(rmErr))
		}
		return
	}
	log.Info("Queue retention sweep", zap.Int64("deleted", n), zap.String("archive", location))
}

// Stats 队列监控
func (s *QueueProcessorService) Stats(ctx context.Context) (*QueueStats, error) {
	var (
		counts map[model.QueueStatus]int64
		oldest *model.MisconceptionQueueItem
		size   int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts, err = s.Queue.CountByStatus(gctx)
		return err
	})
	g.Go(func() (err error) {
		oldest, err = s.Queue.OldestPending(gctx)
		return err
	})
	g.Go(func() (err error) {
		size, err = s.Cache.Size(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Pending:    counts[model.QueueStatusPending],
		Processing: counts[model.QueueStatusProcessing],
		Completed:  counts[model.QueueStatusCompleted],
		Failed:     counts[model.QueueStatusFailed],
		CacheSize:  size,
	}
	if oldest != nil {
		stats.OldestPendingAge = s.now().Sub(oldest.CreatedAt).Seconds()
	}
	return stats, nil
}
