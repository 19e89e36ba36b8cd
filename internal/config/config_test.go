package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		StoreBackend:       "memory",
		AIConcurrency:      3,
		AIMaxAttempts:      3,
		CronBudget:         45 * time.Second,
		CronHardLimit:      60 * time.Second,
		ScanBudget:         45 * time.Second,
		QueueBusyThreshold: 20,
		QueueMaxAttempts:   5,
		PendingTTL:         24 * time.Hour,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBudgetAtHardLimit(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.CronBudget = cfg.CronHardLimit
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "CRON_BUDGET") {
		t.Fatalf("expected CRON_BUDGET error, got %v", err)
	}
}

func TestValidateRequiresBackendURL(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.StoreBackend = " Redis "
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("expected REDIS_URL error, got %v", err)
	}
	if cfg.StoreBackend != BackendRedis {
		t.Fatalf("expected backend normalized to redis, got %q", cfg.StoreBackend)
	}

	cfg = validConfig()
	cfg.StoreBackend = "postgres"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}

	cfg = validConfig()
	cfg.StoreBackend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func TestCORSAllowedOriginsListDedupes(t *testing.T) {
	t.Parallel()

	cfg := Config{CORSAllowedOrigins: " https://a.example , ,https://b.example,https://a.example"}
	got := cfg.CORSAllowedOriginsList()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %#v", got)
	}
}
