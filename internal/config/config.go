package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	JWT           JWTConfig
	Storage       StorageConfig
	Tracing       TracingConfig `mapstructure:"tracing"`
	Redis         RedisConfig
	Log           LogConfig           `mapstructure:"log"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Misconception MisconceptionConfig `mapstructure:"misconception"`
	Adaptive      AdaptiveConfig      `mapstructure:"adaptive"`
	CORS          CORSConfig          `mapstructure:"cors"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	MigrateOnly bool `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port        string
	Mode        string
	WatchConfig bool `mapstructure:"watch_config"`
}

type DatabaseConfig struct {
	Driver    string // mysql 或 sqlite
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	Path      string // sqlite 文件路径
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	MinioUseSSL   bool   `mapstructure:"minio_use_ssl"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// LLMProviderConfig OpenAI 兼容接口（Deepseek / OpenAI / Perplexity 均适用）
type LLMProviderConfig struct {
	Name        string  `mapstructure:"name"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMConfig 第一个为主提供方，其余按顺序降级
type LLMConfig struct {
	Providers []LLMProviderConfig `mapstructure:"providers"`
	Timeout   time.Duration       `mapstructure:"timeout"`
}

type MisconceptionConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	MaxRetries          int           `mapstructure:"max_retries"`
	Retention           time.Duration `mapstructure:"retention"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	ProcessInterval     time.Duration `mapstructure:"process_interval"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	ArchiveEnabled      bool          `mapstructure:"archive_enabled"`
	QueueMonitorEnabled bool          `mapstructure:"queue_monitor_enabled"`
	CronToken           string        `mapstructure:"cron_token"`
	PatternThreshold    int           `mapstructure:"pattern_threshold"`
}

type AdaptiveConfig struct {
	HistorySize         int     `mapstructure:"history_size"`
	RecentDays          int     `mapstructure:"recent_days"`
	DefaultCount        int     `mapstructure:"default_count"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	AccuracyThreshold   float64 `mapstructure:"accuracy_threshold"`
	MinWeight           float64 `mapstructure:"min_weight"`
	MaxWeight           float64 `mapstructure:"max_weight"`
	CandidateBatchSize  int     `mapstructure:"candidate_batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("jwt.expire_hours", 72)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./uploads")
	v.SetDefault("log.path", "logs/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("rate_limit.max_requests", 6000)
	v.SetDefault("rate_limit.window_minutes", 1)

	v.SetDefault("misconception.batch_size", 10)
	v.SetDefault("misconception.max_retries", 3)
	v.SetDefault("misconception.retention", 7*24*time.Hour)
	v.SetDefault("misconception.cache_ttl", 30*24*time.Hour)
	v.SetDefault("misconception.process_interval", time.Minute)
	v.SetDefault("misconception.lock_ttl", 5*time.Minute)
	v.SetDefault("misconception.pattern_threshold", 3)

	v.SetDefault("adaptive.history_size", 50)
	v.SetDefault("adaptive.recent_days", 7)
	v.SetDefault("adaptive.default_count", 10)
	v.SetDefault("adaptive.confidence_threshold", 0.7)
	v.SetDefault("adaptive.accuracy_threshold", 0.6)
	v.SetDefault("adaptive.min_weight", 0.05)
	v.SetDefault("adaptive.max_weight", 10.0)
	v.SetDefault("adaptive.candidate_batch_size", 200)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ELEVENPLUS")
	v.AutomaticEnv()

	setDefaults(v)

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// Storage / MinIO
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	// 队列处理器
	v.BindEnv("misconception.cron_token", "MISCONCEPTION_CRON_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	// API Key 不写进配置文件，按提供方名称从环境变量读取，例如 DEEPSEEK_API_KEY
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		if p.APIKey == "" && p.Name != "" {
			p.APIKey = os.Getenv(envKeyFor(p.Name))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

// Validate 校验运行所需的最小配置
func (c *Config) Validate() error {
	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}
	if c.Misconception.BatchSize <= 0 {
		return fmt.Errorf("misconception.batch_size must be positive, got %d", c.Misconception.BatchSize)
	}
	if c.Misconception.MaxRetries < 0 {
		return fmt.Errorf("misconception.max_retries must not be negative, got %d", c.Misconception.MaxRetries)
	}
	if c.Adaptive.MinWeight <= 0 || c.Adaptive.MaxWeight < c.Adaptive.MinWeight {
		return fmt.Errorf("adaptive weight bounds invalid: min=%v max=%v", c.Adaptive.MinWeight, c.Adaptive.MaxWeight)
	}
	for i, p := range c.LLM.Providers {
		if p.Name == "" || p.BaseURL == "" || p.Model == "" {
			return fmt.Errorf("llm.providers[%d]: name, base_url and model are required", i)
		}
	}
	return nil
}

func envKeyFor(provider string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return strings.ToUpper(r.Replace(provider)) + "_API_KEY"
}
