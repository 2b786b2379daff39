package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SyncConfig controls the background sync loop.
type SyncConfig struct {
	// RefreshCron is a cron-style schedule string driving periodic sync
	// of all sources (e.g. "*/5 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxRetries is the number of consecutive failures after which a
	// source is gated behind its next-retry time.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// InitialTimeoutSeconds bounds network fetches during the first sync
	// after startup; BackgroundTimeoutSeconds bounds subsequent cycles.
	InitialTimeoutSeconds    int `yaml:"initial_timeout_seconds" json:"initial_timeout_seconds"`
	BackgroundTimeoutSeconds int `yaml:"background_timeout_seconds" json:"background_timeout_seconds"`

	// MaxOccurrencesPerEvent caps recurrence expansion per event so an
	// open-ended daily rule cannot run away.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used as the default display zone and as
	// the interpretation zone for floating (zoneless) event times.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataDir holds the SQLite database.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// EncryptionPassphrase derives the key protecting stored source
	// credentials. Required when any source has requires_auth set.
	EncryptionPassphrase string `yaml:"encryption_passphrase" json:"-"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Sync SyncConfig `yaml:"sync" json:"sync"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "UTC",
		DataDir:  "./var",
		LogLevel: "info",
		Sync: SyncConfig{
			RefreshCron:              "*/5 * * * *",
			MaxRetries:               3,
			InitialTimeoutSeconds:    60,
			BackgroundTimeoutSeconds: 45,
			MaxOccurrencesPerEvent:   500,
		},
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs from older versions still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.DataDir == "" {
		c.DataDir = "./var"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Sync.RefreshCron == "" {
		c.Sync.RefreshCron = "*/5 * * * *"
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.InitialTimeoutSeconds <= 0 {
		c.Sync.InitialTimeoutSeconds = 60
	}
	if c.Sync.BackgroundTimeoutSeconds <= 0 {
		c.Sync.BackgroundTimeoutSeconds = 45
	}
	if c.Sync.MaxOccurrencesPerEvent <= 0 {
		c.Sync.MaxOccurrencesPerEvent = 500
	}
}

// Location resolves the configured default display zone. Invalid or empty
// values fall back to UTC rather than failing startup.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InitialTimeout returns the network deadline for the first sync cycle.
func (c *Config) InitialTimeout() time.Duration {
	return time.Duration(c.Sync.InitialTimeoutSeconds) * time.Second
}

// BackgroundTimeout returns the network deadline for later cycles.
func (c *Config) BackgroundTimeout() time.Duration {
	return time.Duration(c.Sync.BackgroundTimeoutSeconds) * time.Second
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (parent
// directory created as needed, 0600 perms) and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".kioskcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
