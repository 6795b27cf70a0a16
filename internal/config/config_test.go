package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_FAILURE_THRESHOLD", "")
	t.Setenv("CACHE_TTL_SECONDS", "")
	t.Setenv("APP_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cfg.App.Addr() != "0.0.0.0:8080" {
		t.Fatalf("addr=%q", cfg.App.Addr())
	}
	if cfg.Ledger.FailureThreshold != 5 {
		t.Fatalf("threshold=%d", cfg.Ledger.FailureThreshold)
	}
	if cfg.Cache.TTL() != time.Minute {
		t.Fatalf("ttl=%s", cfg.Cache.TTL())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_CALL_TIMEOUT_MS", "250")
	t.Setenv("LEDGER_OPEN_TIMEOUT_SECONDS", "7")
	t.Setenv("RATE_LIMIT_MAX", "3")
	t.Setenv("POSTGRES_RUN_MIGRATIONS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cfg.Ledger.CallTimeout() != 250*time.Millisecond {
		t.Fatalf("call timeout=%s", cfg.Ledger.CallTimeout())
	}
	if cfg.Ledger.OpenTimeout() != 7*time.Second {
		t.Fatalf("open timeout=%s", cfg.Ledger.OpenTimeout())
	}
	if cfg.RateLimit.Max != 3 {
		t.Fatalf("rate max=%d", cfg.RateLimit.Max)
	}
	if cfg.Postgres.RunMigrations {
		t.Fatalf("expected migrations disabled")
	}
}

func TestLoad_InvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestProfileConfig_EncryptionKey(t *testing.T) {
	key, err := ProfileConfig{}.EncryptionKey()
	if err != nil || key != nil {
		t.Fatalf("key=%v err=%v", key, err)
	}
	if _, err := (ProfileConfig{EncryptionKeyHex: "zz"}).EncryptionKey(); err == nil {
		t.Fatalf("expected decode error")
	}
	key, err = ProfileConfig{EncryptionKeyHex: "00ff"}.EncryptionKey()
	if err != nil || len(key) != 2 {
		t.Fatalf("key=%v err=%v", key, err)
	}
}
