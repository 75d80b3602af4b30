package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"vidgen/internal/domain"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	LogLevel         string
	Port             string
	DatabaseURL      string
	EventsSQLitePath string
	EngineConfigPath string
	StoragePath      string
	StorageBaseURL   string
	Transcoder       string
	FFmpegPath       string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AdminToken       string
	CORSOrigins      []string

	Budget BudgetConfig

	QueueWorkers     int
	QueueMaxAttempts int
	QueueBackoffBase time.Duration
	QueueBackoffMax  time.Duration
	PollInterval     time.Duration
	PollTimeout      time.Duration
	EventBufferSize  int
	JobRetention     time.Duration
}

// BudgetConfig carries the ledger ceilings.
type BudgetConfig struct {
	DailyLimit       domain.Money
	MonthlyLimit     domain.Money
	PerJobLimit      domain.Money
	OverageTolerance domain.Money
	Location         *time.Location
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		EventsSQLitePath: os.Getenv("EVENTS_SQLITE_PATH"),
		EngineConfigPath: getEnv("ENGINE_CONFIG", "config/engine.yaml"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		Transcoder:       getEnv("TRANSCODER", "auto"),
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		AdminToken:       os.Getenv("ADMIN_TOKEN"),
		CORSOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		QueueWorkers:     getEnvInt("QUEUE_WORKERS", 3),
		QueueMaxAttempts: getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueBackoffBase: time.Second * time.Duration(getEnvInt("QUEUE_BACKOFF_BASE_SECONDS", 2)),
		QueueBackoffMax:  time.Second * time.Duration(getEnvInt("QUEUE_BACKOFF_MAX_SECONDS", 300)),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)),
		PollTimeout:      time.Second * time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 300)),
		EventBufferSize:  getEnvInt("EVENT_BUFFER_SIZE", 1000),
		JobRetention:     time.Minute * time.Duration(getEnvInt("JOB_RETENTION_MINUTES", 60)),
	}
	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", "http://localhost:"+cfg.Port+"/static")

	var err error
	if cfg.Budget.DailyLimit, err = getEnvMoney("BUDGET_DAILY_LIMIT_USD", "10.00"); err != nil {
		return nil, err
	}
	if cfg.Budget.MonthlyLimit, err = getEnvMoney("BUDGET_MONTHLY_LIMIT_USD", "200.00"); err != nil {
		return nil, err
	}
	if cfg.Budget.PerJobLimit, err = getEnvMoney("BUDGET_PER_JOB_LIMIT_USD", "2.00"); err != nil {
		return nil, err
	}
	if cfg.Budget.OverageTolerance, err = getEnvMoney("BUDGET_OVERAGE_TOLERANCE_USD", "0.10"); err != nil {
		return nil, err
	}
	tz := getEnv("BUDGET_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("BUDGET_TIMEZONE %q: %w", tz, err)
	}
	cfg.Budget.Location = loc

	if cfg.QueueWorkers <= 0 {
		return nil, fmt.Errorf("QUEUE_WORKERS must be positive")
	}
	if cfg.QueueMaxAttempts <= 0 {
		return nil, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive")
	}
	if cfg.PollInterval <= 0 || cfg.PollTimeout <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS and POLL_TIMEOUT_SECONDS must be positive")
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs with developer defaults.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvMoney(key, fallback string) (domain.Money, error) {
	m, err := domain.ParseMoney(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if m < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return m, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
