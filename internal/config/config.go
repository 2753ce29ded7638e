// Package config loads service configuration with layered precedence:
// struct defaults, then an optional YAML file, then IMMICH_SYNC_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/chmdznr/immich-album-sync/internal/logging"
)

// envPrefix namespaces the service's environment variables.
const envPrefix = "IMMICH_SYNC_"

// Config is the full service configuration.
type Config struct {
	Listen          string         `koanf:"listen" validate:"required"`
	DatabasePath    string         `koanf:"database_path" validate:"required"`
	SecretKey       string         `koanf:"secret_key" validate:"required"`
	TokenTTL        time.Duration  `koanf:"token_ttl"`
	DefaultSyncTime string         `koanf:"default_sync_time" validate:"required"`
	Log             logging.Config `koanf:"log"`
	Sync            SyncConfig     `koanf:"sync"`
	Archive         ArchiveConfig  `koanf:"archive"`
}

// SyncConfig bounds the engine.
type SyncConfig struct {
	WorkersPerInstance   int           `koanf:"workers_per_instance" validate:"min=1"`
	MaxAttempts          int           `koanf:"max_attempts" validate:"min=1"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	HTTPTimeout          time.Duration `koanf:"http_timeout"`
}

// ArchiveConfig points at an optional S3-compatible archive bucket that
// mirrors every copied asset. Empty endpoint disables the mirror.
type ArchiveConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Prefix    string `koanf:"prefix"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// Enabled reports whether the archive mirror is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.Endpoint != "" && a.Bucket != ""
}

func defaults() *Config {
	return &Config{
		Listen:          ":8080",
		DatabasePath:    "immich-album-sync.db",
		TokenTTL:        7 * 24 * time.Hour,
		DefaultSyncTime: "00:00",
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Sync: SyncConfig{
			WorkersPerInstance:   4,
			MaxAttempts:          5,
			RetryInitialInterval: 500 * time.Millisecond,
			RetryMaxInterval:     10 * time.Second,
			HTTPTimeout:          60 * time.Second,
		},
	}
}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply; a non-empty path must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// IMMICH_SYNC_LISTEN -> listen, IMMICH_SYNC_LOG__LEVEL -> log.level
	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		key = strings.TrimPrefix(key, envPrefix)
		return strings.ReplaceAll(strings.ToLower(key), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate configuration: %w", err)
	}
	return cfg, nil
}
