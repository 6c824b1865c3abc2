package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "ENV", "DATABASE_URL", "REDIS_URL", "CORS_ORIGINS",
		"REPORT_SIGNING_KEY", "REPORT_LINK_TTL_SECONDS", "RETENTION_YEARS",
		"WORKER_BATCH_SIZE", "WORKER_WAIT_SECONDS",
		"VISIBILITY_TIMEOUT_SECONDS", "MAX_RECEIVE_COUNT",
		"LIFECYCLE_INTERVAL_SECONDS",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		if had {
			t.Cleanup(func() { os.Setenv(k, old) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Error("expected default env to be development")
	}
	if cfg.RetentionYears != 7 {
		t.Errorf("expected 7-year retention default, got %d", cfg.RetentionYears)
	}
	if cfg.ReportLinkDuration() != time.Hour {
		t.Errorf("expected 1h report link TTL, got %s", cfg.ReportLinkDuration())
	}
	if cfg.VisibilityTimeout() != 60*time.Second {
		t.Errorf("expected 60s visibility timeout, got %s", cfg.VisibilityTimeout())
	}
	if cfg.WorkerBatchSize != 10 {
		t.Errorf("expected batch size 10, got %d", cfg.WorkerBatchSize)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("PORT", "9100")
	os.Setenv("RETENTION_YEARS", "10")
	os.Setenv("WORKER_WAIT_SECONDS", "5")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("RETENTION_YEARS")
		os.Unsetenv("WORKER_WAIT_SECONDS")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("expected port 9100, got %s", cfg.Port)
	}
	if cfg.RetentionYears != 10 {
		t.Errorf("expected retention 10, got %d", cfg.RetentionYears)
	}
	if cfg.WorkerWait() != 5*time.Second {
		t.Errorf("expected 5s worker wait, got %s", cfg.WorkerWait())
	}
}

func TestLoad_ProductionRequiresSigningKey(t *testing.T) {
	clearEnv(t)
	os.Setenv("ENV", "production")
	defer os.Unsetenv("ENV")

	if _, err := Load(); err == nil {
		t.Error("expected error when REPORT_SIGNING_KEY missing in production")
	}

	os.Setenv("REPORT_SIGNING_KEY", "test-key")
	defer os.Unsetenv("REPORT_SIGNING_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with signing key: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
}

func TestLoad_InvalidRetention(t *testing.T) {
	clearEnv(t)
	os.Setenv("RETENTION_YEARS", "0")
	defer os.Unsetenv("RETENTION_YEARS")

	if _, err := Load(); err == nil {
		t.Error("expected error for non-positive RETENTION_YEARS")
	}
}
