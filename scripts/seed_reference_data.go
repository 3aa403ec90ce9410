// 导入题库、选项误区标注与初始账号
//
// 可重复执行：账号已存在则跳过，题目按 (topic_id, stem) 更新。
//
// 用法: go run scripts/seed_reference_data.go -file configs/seed.yaml

package main

import (
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/seed"
	"elevenplus_backend/pkg/database"
	"elevenplus_backend/pkg/logger"
	"flag"
	"log"

	"github.com/joho/godotenv"
)

func main() {
	file := flag.String("file", "configs/seed.yaml", "参考数据 YAML 文件")
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	data, err := seed.LoadFile(*file)
	if err != nil {
		log.Fatalf("读取参考数据失败: %v", err)
	}

	stats, err := seed.Apply(context.Background(), db, data)
	if err != nil {
		log.Fatalf("导入失败: %v", err)
	}
	log.Printf("完成！新建账号 %d，新建题目 %d，更新题目 %d，选项 %d",
		stats.UsersCreated, stats.QuestionsCreated, stats.QuestionsUpdated, stats.Options)
}
