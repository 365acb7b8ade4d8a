package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (skipped when the file does
// not exist, so env-only deployments work), merges it on top of the built-in
// defaults, applies environment variable overrides, and returns the final
// Config. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from environment variables.
// Two naming layers are honored: the bare operational names the service has
// always used (DATABASE_URL, RESEND_API_KEY, ...) and fully-qualified
// PRICEWATCH_* names covering every field. The PRICEWATCH_* form is applied
// second and wins when both are set.
func applyEnvOverrides(cfg *Config) {
	// ── Bare operational names ──
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.LLM.APIKey, "OPENROUTER_API_KEY")
	setStr(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setInt(&cfg.LLM.DailyTokenLimit, "DAILY_TOKEN_LIMIT")
	setInt(&cfg.LLM.RequestsPerMinute, "MAX_LLM_REQUESTS_PER_MINUTE")
	setStr(&cfg.Email.ResendAPIKey, "RESEND_API_KEY")
	setStr(&cfg.Email.To, "USER_EMAIL")
	setStr(&cfg.Email.From, "FROM_EMAIL")
	setInt(&cfg.Scraper.MaxScrapesPerMinute, "MAX_SCRAPES_PER_MINUTE")
	setSeconds(&cfg.Scraper.RequestTimeout, "REQUEST_TIMEOUT_SECONDS")
	setSeconds(&cfg.Scraper.OperationTimeout, "OPERATION_TIMEOUT_SECONDS")
	setSeconds(&cfg.Scraper.PageLoadDelay, "PAGE_LOAD_DELAY_SECONDS")
	setInt(&cfg.Scraper.MaxConcurrentBrowsers, "MAX_CONCURRENT_BROWSERS")
	setFloat64(&cfg.Scraper.MemoryThreshold, "MEMORY_THRESHOLD_PERCENT")
	setInt(&cfg.Healing.MaxConsecutiveFailures, "MAX_CONSECUTIVE_FAILURES")
	setInt(&cfg.Healing.MaxHealingAttempts, "MAX_HEALING_ATTEMPTS")
	setFloat64(&cfg.Healing.StoreFailureThreshold, "STORE_FAILURE_THRESHOLD")
	setInt(&cfg.Retention.ScrapeLogDays, "SCRAPE_LOG_RETENTION_DAYS")
	setInt(&cfg.Retention.NotificationDays, "NOTIFICATION_RETENTION_DAYS")
	setInt(&cfg.Scheduler.DefaultCheckHour, "DEFAULT_CHECK_HOUR")
	setStr(&cfg.Scheduler.Timezone, "SCHEDULER_TIMEZONE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	// ── Database ──
	setStr(&cfg.Database.DSN, "PRICEWATCH_DATABASE_DSN")
	setStr(&cfg.Database.Host, "PRICEWATCH_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PRICEWATCH_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PRICEWATCH_DATABASE_NAME")
	setStr(&cfg.Database.User, "PRICEWATCH_DATABASE_USER")
	setStr(&cfg.Database.Password, "PRICEWATCH_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PRICEWATCH_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "PRICEWATCH_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PRICEWATCH_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PRICEWATCH_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PRICEWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PRICEWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRICEWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRICEWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRICEWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRICEWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRICEWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PRICEWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PRICEWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRICEWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRICEWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRICEWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRICEWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRICEWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRICEWATCH_S3_FORCE_PATH_STYLE")

	// ── LLM ──
	setStr(&cfg.LLM.APIKey, "PRICEWATCH_LLM_API_KEY")
	setStr(&cfg.LLM.EncryptedKeyPath, "PRICEWATCH_LLM_ENCRYPTED_KEY_PATH")
	setStr(&cfg.LLM.KeyPassword, "PRICEWATCH_LLM_KEY_PASSWORD")
	setStr(&cfg.LLM.BaseURL, "PRICEWATCH_LLM_BASE_URL")
	setStr(&cfg.LLM.PrimaryModel, "PRICEWATCH_LLM_PRIMARY_MODEL")
	setStringSlice(&cfg.LLM.FallbackModels, "PRICEWATCH_LLM_FALLBACK_MODELS")
	setInt(&cfg.LLM.DailyTokenLimit, "PRICEWATCH_LLM_DAILY_TOKEN_LIMIT")
	setInt(&cfg.LLM.RequestsPerMinute, "PRICEWATCH_LLM_REQUESTS_PER_MINUTE")
	setStr(&cfg.LLM.OpenAIAPIKey, "PRICEWATCH_LLM_OPENAI_API_KEY")

	// ── Email ──
	setStr(&cfg.Email.ResendAPIKey, "PRICEWATCH_EMAIL_RESEND_API_KEY")
	setStr(&cfg.Email.EncryptedKeyPath, "PRICEWATCH_EMAIL_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Email.KeyPassword, "PRICEWATCH_EMAIL_KEY_PASSWORD")
	setStr(&cfg.Email.From, "PRICEWATCH_EMAIL_FROM")
	setStr(&cfg.Email.To, "PRICEWATCH_EMAIL_TO")

	// ── Scraper ──
	setDuration(&cfg.Scraper.RequestTimeout, "PRICEWATCH_SCRAPER_REQUEST_TIMEOUT")
	setDuration(&cfg.Scraper.OperationTimeout, "PRICEWATCH_SCRAPER_OPERATION_TIMEOUT")
	setDuration(&cfg.Scraper.PageLoadDelay, "PRICEWATCH_SCRAPER_PAGE_LOAD_DELAY")
	setInt(&cfg.Scraper.MaxConcurrentBrowsers, "PRICEWATCH_SCRAPER_MAX_CONCURRENT_BROWSERS")
	setFloat64(&cfg.Scraper.MemoryThreshold, "PRICEWATCH_SCRAPER_MEMORY_THRESHOLD")
	setInt(&cfg.Scraper.MaxScrapesPerMinute, "PRICEWATCH_SCRAPER_MAX_SCRAPES_PER_MINUTE")
	setBool(&cfg.Scraper.RespectRobots, "PRICEWATCH_SCRAPER_RESPECT_ROBOTS")
	setBool(&cfg.Scraper.EnforceWhitelist, "PRICEWATCH_SCRAPER_ENFORCE_WHITELIST")
	setBool(&cfg.Scraper.EnableRetries, "PRICEWATCH_SCRAPER_ENABLE_RETRIES")
	setStr(&cfg.Scraper.BrowserPath, "PRICEWATCH_SCRAPER_BROWSER_PATH")

	// ── Scheduler ──
	setStr(&cfg.Scheduler.Timezone, "PRICEWATCH_SCHEDULER_TIMEZONE")
	setInt(&cfg.Scheduler.DefaultCheckHour, "PRICEWATCH_SCHEDULER_DEFAULT_CHECK_HOUR")

	// ── Healing ──
	setInt(&cfg.Healing.MaxConsecutiveFailures, "PRICEWATCH_HEALING_MAX_CONSECUTIVE_FAILURES")
	setInt(&cfg.Healing.MaxHealingAttempts, "PRICEWATCH_HEALING_MAX_HEALING_ATTEMPTS")
	setFloat64(&cfg.Healing.StoreFailureThreshold, "PRICEWATCH_HEALING_STORE_FAILURE_THRESHOLD")
	setInt(&cfg.Healing.MaxProductsPerRun, "PRICEWATCH_HEALING_MAX_PRODUCTS_PER_RUN")

	// ── Retention ──
	setInt(&cfg.Retention.ScrapeLogDays, "PRICEWATCH_RETENTION_SCRAPE_LOG_DAYS")
	setInt(&cfg.Retention.NotificationDays, "PRICEWATCH_RETENTION_NOTIFICATION_DAYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRICEWATCH_MODE")
	setStr(&cfg.LogLevel, "PRICEWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setSeconds parses a plain number of seconds (fractions allowed), the form
// the *_SECONDS variables have always used.
func setSeconds(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			dst.Duration = time.Duration(f * float64(time.Second))
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
