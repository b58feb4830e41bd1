package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 8060 {
		t.Errorf("server = %s:%d, want defaults", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Storage.Type != "local" {
		t.Errorf("storage type = %q, want %q", cfg.Storage.Type, "local")
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Deletion.SoftDefault {
		t.Error("SoftDefault = true, want false by default")
	}
	if cfg.Deletion.KeepBackups != 10 {
		t.Errorf("KeepBackups = %d, want 10", cfg.Deletion.KeepBackups)
	}
	if cfg.Deletion.BulkBatchSize != 5 {
		t.Errorf("BulkBatchSize = %d, want 5", cfg.Deletion.BulkBatchSize)
	}
	if cfg.Deletion.BulkPause != 100*time.Millisecond {
		t.Errorf("BulkPause = %v, want 100ms", cfg.Deletion.BulkPause)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.JSON {
		t.Errorf("logging = %+v, want info text", cfg.Logging)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: 0.0.0.0
  port: 9000
storage:
  type: gcs
  gcs:
    bucket: my-reports
    prefix: prod/
cache:
  ttl: 30s
deletion:
  softDefault: true
  keepBackups: 5
logging:
  level: debug
  json: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Storage.Type != "gcs" || cfg.Storage.GCS.Bucket != "my-reports" || cfg.Storage.GCS.Prefix != "prod/" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("cache TTL = %v, want 30s", cfg.Cache.TTL)
	}
	if !cfg.Deletion.SoftDefault || cfg.Deletion.KeepBackups != 5 {
		t.Errorf("deletion = %+v", cfg.Deletion)
	}
	// Unset file values keep their defaults.
	if cfg.Deletion.BulkBatchSize != 5 {
		t.Errorf("BulkBatchSize = %d, want default preserved", cfg.Deletion.BulkBatchSize)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("Load() succeeded for missing file, want error")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not: a: mapping"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("Load() succeeded for invalid YAML, want error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CUKETRACK_HOST", "10.0.0.1")
	t.Setenv("CUKETRACK_PORT", "7070")
	t.Setenv("CUKETRACK_STORAGE_TYPE", "gcs")
	t.Setenv("CUKETRACK_GCS_BUCKET", "env-bucket")
	t.Setenv("CUKETRACK_CACHE_TTL", "1m")
	t.Setenv("CUKETRACK_SOFT_DELETE_DEFAULT", "true")
	t.Setenv("CUKETRACK_KEEP_BACKUPS", "7")
	t.Setenv("CUKETRACK_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "10.0.0.1" || cfg.Server.Port != 7070 {
		t.Errorf("server = %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Storage.Type != "gcs" || cfg.Storage.GCS.Bucket != "env-bucket" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("cache TTL = %v, want 1m", cfg.Cache.TTL)
	}
	if !cfg.Deletion.SoftDefault || cfg.Deletion.KeepBackups != 7 {
		t.Errorf("deletion = %+v", cfg.Deletion)
	}
	if !cfg.Logging.JSON {
		t.Error("logging JSON = false, want env override applied")
	}
}

func TestLoad_InvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("CUKETRACK_PORT", "not-a-number")
	t.Setenv("CUKETRACK_CACHE_TTL", "not-a-duration")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8060 {
		t.Errorf("Port = %d, want default kept for invalid value", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("TTL = %v, want default kept for invalid value", cfg.Cache.TTL)
	}
}
