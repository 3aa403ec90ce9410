// @title 11+ Tutor 后端 API
// @version 1.0
// @description 11+ 备考平台：误区识别、解释生成队列、误区模式分析与自适应选题。

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"elevenplus_backend/internal/app"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/pkg/logger"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	processOnce := flag.Bool("process-once", false, "处理一批误区解释队列后退出，供外部调度器使用")
	flag.Parse()

	// 本地开发从 .env 读取密钥（DEEPSEEK_API_KEY 等），线上直接用环境变量
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	if *migrateOnly {
		logger.Log.Info("Database migration completed, exiting")
		return
	}

	if *processOnce {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		result, err := application.ProcessOnce(ctx)
		if err != nil {
			logger.Log.Fatal("Queue processing failed", zap.Error(err))
		}
		logger.Log.Info("Queue processed",
			zap.Int("processed", result.Processed),
			zap.Int("apiCalls", result.APICalls),
			zap.Int("cacheHits", result.CacheHits),
			zap.Int("failed", result.Failed),
			zap.Bool("skipped", result.Skipped),
		)
		return
	}

	application.Run()
}
