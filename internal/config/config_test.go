package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("first-run load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" || cfg.Timezone != "UTC" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Sync.RefreshCron != "*/5 * * * *" || cfg.Sync.MaxRetries != 3 {
		t.Errorf("sync defaults not applied: %+v", cfg.Sync)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config perms = %o, want 600", perm)
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "0.0.0.0:9090"
	cfg.Timezone = "Europe/Berlin"
	cfg.EncryptionPassphrase = "hunter2"
	cfg.Sync.MaxRetries = 5
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "pw"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Listen != "0.0.0.0:9090" || got.Timezone != "Europe/Berlin" {
		t.Errorf("roundtrip: %+v", got)
	}
	if got.EncryptionPassphrase != "hunter2" {
		t.Error("passphrase lost across save/load")
	}
	if got.Sync.MaxRetries != 5 {
		t.Errorf("maxRetries = %d", got.Sync.MaxRetries)
	}
	if got.BasicAuth == nil || got.BasicAuth.Username != "admin" {
		t.Errorf("basicAuth: %+v", got.BasicAuth)
	}
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "listen: 127.0.0.1:3000\ntimezone: America/Chicago\n"
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:3000" || cfg.Timezone != "America/Chicago" {
		t.Errorf("explicit values overridden: %+v", cfg)
	}
	if cfg.Sync.MaxOccurrencesPerEvent != 500 {
		t.Errorf("maxOccurrencesPerEvent = %d, want default 500", cfg.Sync.MaxOccurrencesPerEvent)
	}
	if cfg.Sync.InitialTimeoutSeconds != 60 || cfg.Sync.BackgroundTimeoutSeconds != 45 {
		t.Errorf("timeout defaults missing: %+v", cfg.Sync)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("logLevel = %q", cfg.LogLevel)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Tokyo"
	if got := cfg.Location().String(); got != "Asia/Tokyo" {
		t.Errorf("location = %q", got)
	}

	cfg.Timezone = "Not/A_Zone"
	if got := cfg.Location(); got != time.UTC {
		t.Errorf("invalid zone should fall back to UTC, got %v", got)
	}
}

func TestTimeoutHelpers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.InitialTimeout() != 60*time.Second {
		t.Errorf("initial = %v", cfg.InitialTimeout())
	}
	if cfg.BackgroundTimeout() != 45*time.Second {
		t.Errorf("background = %v", cfg.BackgroundTimeout())
	}
}
