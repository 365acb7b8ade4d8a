package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "full" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "full")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want 5432", cfg.Database.Port)
	}
	if cfg.Scraper.RequestTimeout.Duration != 30*time.Second {
		t.Errorf("Scraper.RequestTimeout = %v, want 30s", cfg.Scraper.RequestTimeout.Duration)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "monitor"
log_level = "debug"

[database]
host = "db.internal"
database = "pw_test"

[scraper]
request_timeout = "10s"
operation_timeout = "90s"

[llm]
fallback_models = ["model-a", "model-b"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "monitor")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "db.internal")
	}
	if cfg.Database.Database != "pw_test" {
		t.Errorf("Database.Database = %q, want %q", cfg.Database.Database, "pw_test")
	}
	// Fields the file does not mention keep their defaults.
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want default 5432", cfg.Database.Port)
	}
	if cfg.Scheduler.DefaultCheckHour != 6 {
		t.Errorf("Scheduler.DefaultCheckHour = %d, want default 6", cfg.Scheduler.DefaultCheckHour)
	}
	if cfg.Scraper.RequestTimeout.Duration != 10*time.Second {
		t.Errorf("Scraper.RequestTimeout = %v, want 10s", cfg.Scraper.RequestTimeout.Duration)
	}
	if cfg.Scraper.OperationTimeout.Duration != 90*time.Second {
		t.Errorf("Scraper.OperationTimeout = %v, want 90s", cfg.Scraper.OperationTimeout.Duration)
	}
	want := []string{"model-a", "model-b"}
	if len(cfg.LLM.FallbackModels) != len(want) {
		t.Fatalf("FallbackModels = %v, want %v", cfg.LLM.FallbackModels, want)
	}
	for i := range want {
		if cfg.LLM.FallbackModels[i] != want[i] {
			t.Errorf("FallbackModels[%d] = %q, want %q", i, cfg.LLM.FallbackModels[i], want[i])
		}
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfigFile(t, `mode = [not toml`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load returned nil error for malformed TOML")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
log_level = "warn"

[database]
host = "from-file"
`)

	t.Setenv("PRICEWATCH_LOG_LEVEL", "error")
	t.Setenv("PRICEWATCH_DATABASE_HOST", "from-env")
	t.Setenv("DATABASE_URL", "postgres://env@db/pw")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want env override %q", cfg.LogLevel, "error")
	}
	if cfg.Database.Host != "from-env" {
		t.Errorf("Database.Host = %q, want env override %q", cfg.Database.Host, "from-env")
	}
	if cfg.Database.DSN != "postgres://env@db/pw" {
		t.Errorf("Database.DSN = %q, want %q", cfg.Database.DSN, "postgres://env@db/pw")
	}
}

func TestLoadQualifiedEnvWinsOverBare(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "bare-key")
	t.Setenv("PRICEWATCH_LLM_API_KEY", "qualified-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "qualified-key" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "qualified-key")
	}
}

func TestLoadEnvHelpers(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "2.5")
	t.Setenv("PRICEWATCH_SCRAPER_OPERATION_TIMEOUT", "3m")
	t.Setenv("PRICEWATCH_LLM_FALLBACK_MODELS", " model-x , ,model-y ")
	t.Setenv("PRICEWATCH_REDIS_ENABLED", "true")
	t.Setenv("MAX_CONCURRENT_BROWSERS", "7")
	t.Setenv("STORE_FAILURE_THRESHOLD", "0.25")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scraper.RequestTimeout.Duration != 2500*time.Millisecond {
		t.Errorf("RequestTimeout = %v, want 2.5s", cfg.Scraper.RequestTimeout.Duration)
	}
	if cfg.Scraper.OperationTimeout.Duration != 3*time.Minute {
		t.Errorf("OperationTimeout = %v, want 3m", cfg.Scraper.OperationTimeout.Duration)
	}
	want := []string{"model-x", "model-y"}
	if len(cfg.LLM.FallbackModels) != len(want) {
		t.Fatalf("FallbackModels = %v, want %v", cfg.LLM.FallbackModels, want)
	}
	for i := range want {
		if cfg.LLM.FallbackModels[i] != want[i] {
			t.Errorf("FallbackModels[%d] = %q, want %q", i, cfg.LLM.FallbackModels[i], want[i])
		}
	}
	if !cfg.Redis.Enabled {
		t.Error("Redis.Enabled = false, want true from env")
	}
	if cfg.Scraper.MaxConcurrentBrowsers != 7 {
		t.Errorf("MaxConcurrentBrowsers = %d, want 7", cfg.Scraper.MaxConcurrentBrowsers)
	}
	if cfg.Healing.StoreFailureThreshold != 0.25 {
		t.Errorf("StoreFailureThreshold = %g, want 0.25", cfg.Healing.StoreFailureThreshold)
	}
}

func TestLoadIgnoresUnparseableEnvValues(t *testing.T) {
	t.Setenv("PRICEWATCH_DATABASE_PORT", "not-a-number")
	t.Setenv("PRICEWATCH_REDIS_ENABLED", "definitely")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "-5")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Database.Port = %d, want default 5432", cfg.Database.Port)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis.Enabled = true, want default false")
	}
	if cfg.Scraper.RequestTimeout.Duration != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want default 30s", cfg.Scraper.RequestTimeout.Duration)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default %q", cfg.LogLevel, "info")
	}
}
