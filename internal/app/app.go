package app

import (
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/controller"
	"elevenplus_backend/internal/repository"
	"elevenplus_backend/internal/service"
	"elevenplus_backend/pkg/configwatcher"
	"elevenplus_backend/pkg/database"
	"elevenplus_backend/pkg/logger"
	"elevenplus_backend/pkg/monitoring"
	"elevenplus_backend/pkg/security"
	"elevenplus_backend/pkg/tracing"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	cancel          context.CancelFunc
	configCallbacks []func(*config.Config)
}

type repositories struct {
	user     *repository.UserRepository
	question *repository.QuestionRepository
	option   *repository.AnswerOptionRepository
	response *repository.ResponseRepository
	queue    *repository.MisconceptionQueueRepository
	cache    *repository.ExplanationCacheRepository
	pattern  *repository.MisconceptionPatternRepository
}

type services struct {
	auth        *service.AuthService
	storage     *service.StorageService
	ai          *service.AIService
	cache       *service.ExplanationCacheService
	queue       *service.MisconceptionQueueService
	answer      *service.AnswerService
	processor   *service.QueueProcessorService
	analyzer    *service.PatternAnalyzerService
	weighting   *service.AdaptiveWeightingService
	explanation *service.ExplanationService
}

type controllers struct {
	health        *controller.HealthController
	auth          *controller.AuthController
	answer        *controller.AnswerController
	misconception *controller.MisconceptionController
	adaptive      *controller.AdaptiveController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:     repository.NewUserRepository(db),
		question: repository.NewQuestionRepository(db),
		option:   repository.NewAnswerOptionRepository(db),
		response: repository.NewResponseRepository(db),
		queue:    repository.NewMisconceptionQueueRepository(db),
		cache:    repository.NewExplanationCacheRepository(db),
		pattern:  repository.NewMisconceptionPatternRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	if cfg.Misconception.ArchiveEnabled {
		storage, err := service.NewStorageService(&cfg.Storage)
		if err != nil {
			logger.Log.Error("Archive storage unavailable, swept rows will not be archived", zap.Error(err))
		} else {
			s.storage = storage
		}
	}

	var locker service.RunLocker = &service.LocalRunLocker{}
	if rdb != nil {
		locker = database.NewRedisLocker(rdb)
	}

	s.auth = service.NewAuthService(repos.user, cfg.JWT)
	s.ai = service.NewAIServiceFromConfig(cfg.LLM)
	s.cache = service.NewExplanationCacheService(repos.cache, cfg.Misconception.CacheTTL)
	s.queue = service.NewMisconceptionQueueService(repos.queue)
	s.answer = service.NewAnswerService(repos.question, repos.option, repos.response, s.cache, s.queue)
	s.processor = service.NewQueueProcessorService(repos.queue, repos.question, repos.option, s.cache, s.ai, s.storage, locker, cfg.Misconception)
	s.analyzer = service.NewPatternAnalyzerService(repos.response, repos.pattern, cfg.Misconception.PatternThreshold)
	s.weighting = service.NewAdaptiveWeightingService(repos.question, repos.option, repos.response, cfg.Adaptive)
	s.explanation = service.NewExplanationService(s.ai, repos.response)

	// 配置热更新：只下发可以安全替换的部分
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.processor.SetConfig(newCfg.Misconception)
		s.cache.SetTTL(newCfg.Misconception.CacheTTL)
		s.weighting.SetConfig(newCfg.Adaptive)
		s.ai.SetProviders(service.NewAIServiceFromConfig(newCfg.LLM).Providers()...)
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		health:        controller.NewHealthController(db, rdb),
		auth:          controller.NewAuthController(s.auth),
		answer:        controller.NewAnswerController(s.answer),
		misconception: controller.NewMisconceptionController(s.processor, s.analyzer, s.explanation),
		adaptive:      controller.NewAdaptiveController(s.weighting),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	// 定时任务与监控抓取不计入限流
	router.Use(security.RateLimiter(cfg.RateLimit, "/api/internal/", "/metrics"))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(ctx context.Context, s *services) {
	interval := a.Config.Misconception.ProcessInterval
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := s.processor.ProcessBatch(ctx); err != nil {
						logger.Log.Error("Scheduled queue processing failed", zap.Error(err))
					}
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.cache.Sweep(ctx); err != nil {
					logger.Log.Error("Explanation cache sweep failed", zap.Error(err))
				}
			}
		}
	}()

	if a.Config.Server.WatchConfig {
		go func() {
			err := configwatcher.WatchConfig(ctx, filepath.Join("configs", "config.yaml"), func(newCfg *config.Config) {
				for _, cb := range a.configCallbacks {
					cb(newCfg)
				}
			})
			if err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}
	if cfg.MigrateOnly {
		return app
	}

	// Redis 只承担跑批锁，连不上时退回进程内锁
	if cfg.Redis.Host != "" {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Warn("Redis unavailable, falling back to in-process queue lock", zap.Error(err))
		} else {
			app.Redis = rdb
		}
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, app.Redis)
	app.services = services
	controllers := app.initControllers(services, db, app.Redis)

	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app
}

// ProcessOnce 手动跑一批队列后返回，用于外部调度器
func (a *App) ProcessOnce(ctx context.Context) (*service.ProcessResult, error) {
	if a.services == nil {
		return nil, errors.New("app not fully initialized")
	}
	return a.services.processor.ProcessBatch(ctx)
}

func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.startBackgroundTasks(ctx, a.services)

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// 先停后台任务，正在跑的批次在当前项结束后退出
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
