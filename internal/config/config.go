package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"redis"`
	RedisURL     string `envconfig:"REDIS_URL" default:""`
	DatabaseURL  string `envconfig:"DATABASE_URL" default:""`
	DBMinConns   int32  `envconfig:"LS_DB_MIN_CONNS" default:"1"`
	DBMaxConns   int32  `envconfig:"LS_DB_MAX_CONNS" default:"8"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`

	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel    string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiBaseURL  string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	DeepSeekAPIKey string `envconfig:"DEEPSEEK_API_KEY" default:""`
	DeepSeekModel  string `envconfig:"DEEPSEEK_MODEL" default:"deepseek-chat"`
	DeepSeekURL    string `envconfig:"DEEPSEEK_BASE_URL" default:"https://api.deepseek.com/v1"`

	AIConcurrency       int           `envconfig:"AI_CONCURRENCY" default:"3"`
	AIRequestsPerSecond float64       `envconfig:"AI_REQUESTS_PER_SECOND" default:"2"`
	AIMaxAttempts       int           `envconfig:"AI_MAX_ATTEMPTS" default:"3"`
	AIRequestTimeout    time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"30s"`

	SlackWebhookURL  string `envconfig:"SLACK_WEBHOOK_URL" default:""`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" default:""`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID" default:""`

	CronBudget         time.Duration `envconfig:"CRON_BUDGET" default:"45s"`
	CronHardLimit      time.Duration `envconfig:"CRON_HARD_LIMIT" default:"60s"`
	ScanBudget         time.Duration `envconfig:"SCAN_BUDGET" default:"45s"`
	QueueBusyThreshold int64         `envconfig:"QUEUE_BUSY_THRESHOLD" default:"20"`
	QueueMaxAttempts   int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"5"`
	PendingTTL         time.Duration `envconfig:"PENDING_TTL" default:"24h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when STORE_BACKEND=redis")
		}
	case BackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
		if c.DBMinConns < 0 {
			return fmt.Errorf("LS_DB_MIN_CONNS must be >= 0")
		}
		if c.DBMaxConns < 1 {
			return fmt.Errorf("LS_DB_MAX_CONNS must be >= 1")
		}
		if c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("LS_DB_MIN_CONNS (%d) cannot exceed LS_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of redis, postgres, memory (got %q)", c.StoreBackend)
	}

	if c.AIConcurrency < 1 {
		return fmt.Errorf("AI_CONCURRENCY must be >= 1")
	}
	if c.AIMaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be >= 1")
	}
	if c.AIRequestsPerSecond < 0 {
		return fmt.Errorf("AI_REQUESTS_PER_SECOND must be >= 0")
	}
	if c.CronBudget <= 0 || c.CronHardLimit <= 0 {
		return fmt.Errorf("CRON_BUDGET and CRON_HARD_LIMIT must be positive")
	}
	if c.CronBudget >= c.CronHardLimit {
		return fmt.Errorf("CRON_BUDGET (%s) must be below CRON_HARD_LIMIT (%s)", c.CronBudget, c.CronHardLimit)
	}
	if c.ScanBudget <= 0 || c.ScanBudget >= c.CronHardLimit {
		return fmt.Errorf("SCAN_BUDGET must be positive and below CRON_HARD_LIMIT")
	}
	if c.QueueBusyThreshold < 1 {
		return fmt.Errorf("QUEUE_BUSY_THRESHOLD must be >= 1")
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("PENDING_TTL must be positive")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
