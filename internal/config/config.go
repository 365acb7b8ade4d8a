// Package config defines the top-level configuration for the price monitor
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by environment variables, both the bare
// operational names (DATABASE_URL, RESEND_API_KEY, ...) and PRICEWATCH_* forms.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	LLM       LLMConfig       `toml:"llm"`
	Email     EmailConfig     `toml:"email"`
	Scraper   ScraperConfig   `toml:"scraper"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Healing   HealingConfig   `toml:"healing"`
	Retention RetentionConfig `toml:"retention"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters. DSN wins when set;
// otherwise the discrete fields are assembled into one.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// rate limiter, token budget and page cache fall back to in-process
// implementations and the signal bus is disabled.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the cleanup
// job's JSONL archive. When Enabled is false expired rows are pruned
// without archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LLMConfig holds the OpenRouter credentials, the model chain, and the
// guardrails shared by LLM extraction and selector regeneration.
type LLMConfig struct {
	APIKey            string   `toml:"api_key"`
	EncryptedKeyPath  string   `toml:"encrypted_key_path"`
	KeyPassword       string   `toml:"key_password"`
	BaseURL           string   `toml:"base_url"`
	PrimaryModel      string   `toml:"primary_model"`
	FallbackModels    []string `toml:"fallback_models"`
	DailyTokenLimit   int      `toml:"daily_token_limit"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	// OpenAIAPIKey is passed through to the search side for embeddings;
	// the monitoring core never calls OpenAI itself.
	OpenAIAPIKey string `toml:"openai_api_key"`
}

// EmailConfig holds the Resend credentials and addressing for alert mail.
type EmailConfig struct {
	ResendAPIKey     string `toml:"resend_api_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	From             string `toml:"from"`
	To               string `toml:"to"`
}

// ScraperConfig holds fetch and extraction guardrails.
type ScraperConfig struct {
	RequestTimeout        duration `toml:"request_timeout"`
	OperationTimeout      duration `toml:"operation_timeout"`
	PageLoadDelay         duration `toml:"page_load_delay"`
	MaxConcurrentBrowsers int      `toml:"max_concurrent_browsers"`
	MemoryThreshold       float64  `toml:"memory_threshold"`
	MaxScrapesPerMinute   int      `toml:"max_scrapes_per_minute"`
	RespectRobots         bool     `toml:"respect_robots"`
	EnforceWhitelist      bool     `toml:"enforce_whitelist"`
	EnableRetries         bool     `toml:"enable_retries"`
	BrowserPath           string   `toml:"browser_path"`
}

// SchedulerConfig holds check-cycle timing parameters.
type SchedulerConfig struct {
	Timezone         string `toml:"timezone"`
	DefaultCheckHour int    `toml:"default_check_hour"`
}

// HealingConfig holds the self-healing thresholds.
type HealingConfig struct {
	MaxConsecutiveFailures int     `toml:"max_consecutive_failures"`
	MaxHealingAttempts     int     `toml:"max_healing_attempts"`
	StoreFailureThreshold  float64 `toml:"store_failure_threshold"`
	MaxProductsPerRun      int     `toml:"max_products_per_run"`
}

// RetentionConfig holds data retention windows in days.
type RetentionConfig struct {
	ScrapeLogDays    int `toml:"scrape_log_days"`
	NotificationDays int `toml:"notification_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "pricewatch",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pricewatch-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		LLM: LLMConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			PrimaryModel: "google/gemini-2.0-flash-exp:free",
			FallbackModels: []string{
				"meta-llama/llama-3.3-70b-instruct:free",
				"anthropic/claude-3.5-haiku",
			},
			DailyTokenLimit:   100_000,
			RequestsPerMinute: 30,
		},
		Email: EmailConfig{
			From: "alerts@pricewatch.app",
		},
		Scraper: ScraperConfig{
			RequestTimeout:        duration{30 * time.Second},
			OperationTimeout:      duration{120 * time.Second},
			PageLoadDelay:         duration{time.Second},
			MaxConcurrentBrowsers: 3,
			MemoryThreshold:       0.70,
			MaxScrapesPerMinute:   10,
			RespectRobots:         true,
			EnforceWhitelist:      true,
			EnableRetries:         true,
		},
		Scheduler: SchedulerConfig{
			Timezone:         "UTC",
			DefaultCheckHour: 6,
		},
		Healing: HealingConfig{
			MaxConsecutiveFailures: 3,
			MaxHealingAttempts:     3,
			StoreFailureThreshold:  0.5,
			MaxProductsPerRun:      10,
		},
		Retention: RetentionConfig{
			ScrapeLogDays:    30,
			NotificationDays: 90,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor":  true, // scheduled scraping only
	"maintain": true, // health, healing and cleanup cycles only
	"full":     true, // everything
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, maintain, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// LLM
	if c.LLM.DailyTokenLimit < 0 {
		errs = append(errs, "llm: daily_token_limit must be >= 0")
	}
	if c.LLM.RequestsPerMinute < 1 {
		errs = append(errs, "llm: requests_per_minute must be >= 1")
	}
	if c.LLM.PrimaryModel == "" {
		errs = append(errs, "llm: primary_model must not be empty")
	}
	if c.LLM.EncryptedKeyPath != "" && c.LLM.KeyPassword == "" {
		errs = append(errs, "llm: key_password is required when encrypted_key_path is set")
	}

	// Email
	if c.Email.EncryptedKeyPath != "" && c.Email.KeyPassword == "" {
		errs = append(errs, "email: key_password is required when encrypted_key_path is set")
	}
	if (c.Email.ResendAPIKey != "" || c.Email.EncryptedKeyPath != "") && c.Email.To == "" {
		errs = append(errs, "email: to must be set when a Resend key is configured")
	}

	// Scraper
	if c.Scraper.RequestTimeout.Duration <= 0 {
		errs = append(errs, "scraper: request_timeout must be > 0")
	}
	if c.Scraper.OperationTimeout.Duration <= 0 {
		errs = append(errs, "scraper: operation_timeout must be > 0")
	}
	if c.Scraper.OperationTimeout.Duration < c.Scraper.RequestTimeout.Duration {
		errs = append(errs, "scraper: operation_timeout must not be shorter than request_timeout")
	}
	if c.Scraper.PageLoadDelay.Duration < 0 {
		errs = append(errs, "scraper: page_load_delay must be >= 0")
	}
	if c.Scraper.MaxConcurrentBrowsers < 1 {
		errs = append(errs, "scraper: max_concurrent_browsers must be >= 1")
	}
	if c.Scraper.MemoryThreshold <= 0 || c.Scraper.MemoryThreshold > 1 {
		errs = append(errs, fmt.Sprintf("scraper: memory_threshold must be in (0, 1], got %g", c.Scraper.MemoryThreshold))
	}
	if c.Scraper.MaxScrapesPerMinute < 1 {
		errs = append(errs, "scraper: max_scrapes_per_minute must be >= 1")
	}

	// Scheduler
	if c.Scheduler.DefaultCheckHour < 0 || c.Scheduler.DefaultCheckHour > 23 {
		errs = append(errs, fmt.Sprintf("scheduler: default_check_hour must be 0-23, got %d", c.Scheduler.DefaultCheckHour))
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler: unknown timezone %q", c.Scheduler.Timezone))
		}
	}

	// Healing
	if c.Healing.MaxConsecutiveFailures < 1 {
		errs = append(errs, "healing: max_consecutive_failures must be >= 1")
	}
	if c.Healing.MaxHealingAttempts < 1 {
		errs = append(errs, "healing: max_healing_attempts must be >= 1")
	}
	if c.Healing.StoreFailureThreshold <= 0 || c.Healing.StoreFailureThreshold > 1 {
		errs = append(errs, fmt.Sprintf("healing: store_failure_threshold must be in (0, 1], got %g", c.Healing.StoreFailureThreshold))
	}
	if c.Healing.MaxProductsPerRun < 1 {
		errs = append(errs, "healing: max_products_per_run must be >= 1")
	}

	// Retention
	if c.Retention.ScrapeLogDays < 1 {
		errs = append(errs, "retention: scrape_log_days must be >= 1")
	}
	if c.Retention.NotificationDays < 1 {
		errs = append(errs, "retention: notification_days must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
