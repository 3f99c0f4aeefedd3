package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.CollectorURL == "" {
		t.Fatalf("expected default collector url")
	}
	if cfg.MaxPendingPoints != 5000 {
		t.Fatalf("expected default cap, got %d", cfg.MaxPendingPoints)
	}
	if cfg.BatchSize != 100 {
		t.Fatalf("expected default batch size, got %d", cfg.BatchSize)
	}
	if cfg.StoreDriver != "sqlite" || cfg.SyncTransport != "ws" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("COLLECTOR_URL", "https://collector.example")
	t.Setenv("DEVICE_TOKEN", "tok")
	t.Setenv("MAX_PENDING_POINTS", "500")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg := Load()
	if cfg.CollectorURL != "https://collector.example" {
		t.Fatalf("expected override collector url")
	}
	if cfg.DeviceToken != "tok" {
		t.Fatalf("expected override token")
	}
	if cfg.MaxPendingPoints != 500 {
		t.Fatalf("expected override cap")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
}

func TestLoadArgsFlagsWinOverEnv(t *testing.T) {
	t.Setenv("TRACKING_MODE", "eco")

	cfg, err := LoadArgs([]string{"--tracking-mode", "precise", "--max-pending-points", "42"})
	if err != nil {
		t.Fatalf("load args: %v", err)
	}
	if cfg.TrackingMode != "precise" {
		t.Fatalf("expected flag to win, got %q", cfg.TrackingMode)
	}
	if cfg.MaxPendingPoints != 42 {
		t.Fatalf("expected flag cap, got %d", cfg.MaxPendingPoints)
	}
}

func TestLoadArgsUnsetFlagKeepsEnv(t *testing.T) {
	t.Setenv("TRACKING_MODE", "eco")

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("load args: %v", err)
	}
	if cfg.TrackingMode != "eco" {
		t.Fatalf("expected env value, got %q", cfg.TrackingMode)
	}
}

func TestLoadArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("SESSION_ID: s-77\nBATCH_SIZE: 25\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadArgs([]string{"--config", path})
	if err != nil {
		t.Fatalf("load args: %v", err)
	}
	if cfg.SessionID != "s-77" || cfg.BatchSize != 25 {
		t.Fatalf("expected file values, got %+v", cfg)
	}
}

func TestLoadArgsBadFlag(t *testing.T) {
	if _, err := LoadArgs([]string{"--no-such-flag"}); err == nil {
		t.Fatalf("expected flag error")
	}
}
