// Package config loads server settings from a YAML file with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the report server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Deletion DeletionConfig `yaml:"deletion"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects and configures the blob storage backend.
type StorageConfig struct {
	// Type is "local" or "gcs".
	Type string    `yaml:"type"`
	Dir  string    `yaml:"dir"`
	GCS  GCSConfig `yaml:"gcs"`
}

// GCSConfig configures the Google Cloud Storage backend.
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// CacheConfig controls caching of served index and statistics reads.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// DeletionConfig controls the deletion lifecycle.
type DeletionConfig struct {
	// SoftDefault makes soft deletion the default when a request does not
	// pick a type. Set on hosting that cannot remove files at request time.
	SoftDefault   bool          `yaml:"softDefault"`
	KeepBackups   int           `yaml:"keepBackups"`
	BulkBatchSize int           `yaml:"bulkBatchSize"`
	BulkPause     time.Duration `yaml:"bulkPause"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CUKETRACK_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8060,
		},
		Storage: StorageConfig{Type: "local"},
		Cache:   CacheConfig{TTL: 5 * time.Minute},
		Deletion: DeletionConfig{
			SoftDefault:   false,
			KeepBackups:   10,
			BulkBatchSize: 5,
			BulkPause:     100 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CUKETRACK_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CUKETRACK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CUKETRACK_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("CUKETRACK_STORAGE_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("CUKETRACK_GCS_BUCKET"); v != "" {
		cfg.Storage.GCS.Bucket = v
	}
	if v := os.Getenv("CUKETRACK_GCS_PREFIX"); v != "" {
		cfg.Storage.GCS.Prefix = v
	}
	if v := os.Getenv("CUKETRACK_GCS_CREDENTIALS"); v != "" {
		cfg.Storage.GCS.CredentialsFile = v
	}
	if v := os.Getenv("CUKETRACK_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("CUKETRACK_SOFT_DELETE_DEFAULT"); v != "" {
		cfg.Deletion.SoftDefault = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("CUKETRACK_KEEP_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Deletion.KeepBackups = n
		}
	}
	if v := os.Getenv("CUKETRACK_BULK_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Deletion.BulkBatchSize = n
		}
	}
	if v := os.Getenv("CUKETRACK_BULK_PAUSE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Deletion.BulkPause = d
		}
	}
	if v := os.Getenv("CUKETRACK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CUKETRACK_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
