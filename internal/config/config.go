package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	AccessModePublic  = "public"
	AccessModePrivate = "private"
)

var (
	ErrMissingAPIKey      = errors.New("OPENAI_API_KEY is required")
	ErrMissingBotToken    = errors.New("BOT_TOKEN is required")
	ErrMissingAdminUserID = errors.New("BOT_ALLOWED_USER_ID is required and must be > 0")
	ErrInvalidAccessMode  = errors.New("BOT_ACCESS_MODE must be 'public' or 'private'")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
)

type Config struct {
	OpenAI OpenAIConfig
	DB     DBConfig
	Redis  RedisConfig
	Bot    BotConfig
	Worker WorkerConfig
	HTTP   HTTPConfig
	Rate   RateConfig
	Log    LogConfig
}

type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	OrgID              string
	DefaultMaxTokens   int
	DefaultTemperature float32
	CompletionModel    string
	ChatModel          string
	ImageModel         string
	ImageSize          string
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	QueueStream    string
	QueueGroup     string
	QueueBlock     time.Duration
	UpdateTTL      time.Duration
	ModelsCacheTTL time.Duration
	ChatSessionTTL time.Duration
}

type BotConfig struct {
	Token         string
	AccessMode    string
	AllowedUserID int64
	WebhookURL    string
	SecretPath    string
	SecretToken   string
}

type WorkerConfig struct {
	Concurrency  int
	ConsumerName string
	MaxRetries   int
	ChatLockTTL  time.Duration
	ChatLockWait time.Duration
}

type HTTPConfig struct {
	ListenAddr    string
	HealthPath    string
	MetricsPath   string
	ClientTimeout time.Duration
}

type RateConfig struct {
	PerHour       int64
	ImagesPerHour int64
}

type LogConfig struct {
	Level string
}

// Load reads the environment, after applying a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		OpenAI: OpenAIConfig{
			APIKey:             mustEnv("OPENAI_API_KEY", ""),
			BaseURL:            mustEnv("OPENAI_BASE_URL", ""),
			OrgID:              mustEnv("OPENAI_ORG_ID", ""),
			DefaultMaxTokens:   mustInt("OPENAI_DEFAULT_MAX_TOKENS", 1000),
			DefaultTemperature: mustFloat32("OPENAI_DEFAULT_TEMPERATURE", 0.7),
			CompletionModel:    mustEnv("OPENAI_COMPLETION_MODEL", "gpt-3.5-turbo-instruct"),
			ChatModel:          mustEnv("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			ImageModel:         mustEnv("OPENAI_IMAGE_MODEL", "dall-e-2"),
			ImageSize:          mustEnv("OPENAI_IMAGE_SIZE", "1024x1024"),
		},
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", DriverSQLite)),
			DSN:         mustEnv("DB_DSN", "file:aiconnect.db?_pragma=busy_timeout(5000)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:           mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:       mustEnv("REDIS_PASSWORD", ""),
			DB:             mustInt("REDIS_DB", 0),
			QueueStream:    mustEnv("QUEUE_STREAM", "aiconnect:jobs"),
			QueueGroup:     mustEnv("QUEUE_GROUP", "aiconnect-workers"),
			QueueBlock:     mustDuration("QUEUE_BLOCK", 5*time.Second),
			UpdateTTL:      mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
			ModelsCacheTTL: mustDuration("MODELS_CACHE_TTL", time.Hour),
			ChatSessionTTL: mustDuration("CHAT_SESSION_TTL", 24*time.Hour),
		},
		Bot: BotConfig{
			Token:         mustEnv("BOT_TOKEN", ""),
			AccessMode:    strings.ToLower(mustEnv("BOT_ACCESS_MODE", AccessModePublic)),
			AllowedUserID: mustInt64("BOT_ALLOWED_USER_ID", 0),
			WebhookURL:    mustEnv("WEBHOOK_URL", ""),
			SecretPath:    strings.Trim(mustEnv("WEBHOOK_SECRET_PATH", "telegram"), "/"),
			SecretToken:   mustEnv("WEBHOOK_SECRET_TOKEN", ""),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 2),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("worker")),
			MaxRetries:   mustInt("WORKER_MAX_RETRIES", 2),
			ChatLockTTL:  mustDuration("CHAT_LOCK_TTL", 2*time.Minute),
			ChatLockWait: mustDuration("CHAT_LOCK_WAIT", 30*time.Second),
		},
		HTTP: HTTPConfig{
			ListenAddr:    mustEnv("HTTP_LISTEN_ADDR", ":8080"),
			HealthPath:    mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath:   mustEnv("METRICS_PATH", "/metrics"),
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 60*time.Second),
		},
		Rate: RateConfig{
			PerHour:       int64(mustInt("RATE_LIMIT_PER_HOUR", 30)),
			ImagesPerHour: int64(mustInt("RATE_LIMIT_IMAGES_PER_HOUR", 5)),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
	}

	if cfg.OpenAI.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}
	if cfg.DB.Driver != DriverSQLite && cfg.DB.Driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}
	return cfg, nil
}

// ValidateBot checks the settings only the bot command needs.
func (c *Config) ValidateBot() error {
	if c.Bot.Token == "" {
		return ErrMissingBotToken
	}
	if c.Bot.AccessMode != AccessModePublic && c.Bot.AccessMode != AccessModePrivate {
		return ErrInvalidAccessMode
	}
	if c.Bot.AccessMode == AccessModePrivate && c.Bot.AllowedUserID <= 0 {
		return ErrMissingAdminUserID
	}
	return nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustFloat32(key string, def float32) float32 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return def
	}
	return float32(f)
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
