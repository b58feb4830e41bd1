// cuketrack-server is the main entry point for the cucumber report server.
//
// It ingests cucumber JSON test reports, normalizes and indexes them, and
// serves the report catalog plus a deletion lifecycle over HTTP.
//
// Supported storage backends:
//   - local: Local filesystem storage
//   - gcs: Google Cloud Storage
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuketrack/cuketrack/internal/config"
	"github.com/cuketrack/cuketrack/internal/deletion"
	"github.com/cuketrack/cuketrack/internal/index"
	"github.com/cuketrack/cuketrack/internal/ingest"
	"github.com/cuketrack/cuketrack/internal/metrics"
	"github.com/cuketrack/cuketrack/internal/server"
	"github.com/cuketrack/cuketrack/internal/storage"
	"github.com/cuketrack/cuketrack/internal/storage/gcs"
	"github.com/cuketrack/cuketrack/internal/storage/local"
)

// initStorage creates and initializes the configured storage backend.
func initStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Type {
	case "local":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("--reports-dir is required for local storage")
		}
		store, err := local.New(local.Config{BasePath: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		logger.Info("initialized local storage", "path", cfg.Dir)
		return store, nil

	case "gcs":
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("--gcs-bucket is required for gcs storage")
		}
		store, err := gcs.New(ctx, gcs.Config{
			Bucket:          cfg.GCS.Bucket,
			Prefix:          cfg.GCS.Prefix,
			CredentialsFile: cfg.GCS.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS storage: %w", err)
		}
		logger.Info("initialized GCS storage",
			"bucket", cfg.GCS.Bucket,
			"prefix", cfg.GCS.Prefix,
		)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s (supported: local, gcs)", cfg.Type)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	host := flag.String("host", "", "Host address for the HTTP server")
	port := flag.Int("port", 0, "Port for the HTTP server")
	storageType := flag.String("storage", "", "Storage backend type: 'local' or 'gcs'")
	reportsDir := flag.String("reports-dir", "", "Directory containing report JSON files (required for local storage)")
	gcsBucket := flag.String("gcs-bucket", "", "GCS bucket name (required for gcs storage)")
	gcsPrefix := flag.String("gcs-prefix", "", "Object path prefix within the GCS bucket")
	gcsCredentials := flag.String("gcs-credentials", "", "Path to GCS service account JSON key file (uses ADC if not specified)")
	softDefault := flag.Bool("soft-delete-default", false, "Default deletions to soft (mark only) instead of hard")
	help := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `cuketrack-server - Cucumber report ingestion and catalog server

USAGE:
    cuketrack-server --storage <type> [STORAGE OPTIONS] [SERVER OPTIONS]

DESCRIPTION:
    Accepts cucumber JSON test reports, normalizes and corrects them,
    maintains a persistent report index with rollup statistics, and
    manages a soft/hard deletion lifecycle with pre-deletion backups.

    The HTTP endpoints are:
      POST   /api/upload-report               - Upload a report
      GET    /api/reports                     - Report catalog (index)
      GET    /api/reports/stats               - Rollup statistics
      GET    /api/reports/deleted             - Deletion ledger
      GET    /api/reports/{filename}          - Download one report
      DELETE /api/reports/{filename}          - Delete one report (?soft=true|false)
      POST   /api/reports/{filename}/restore  - Restore a soft-deleted report
      POST   /api/reports/bulk-delete         - Delete several reports
      POST   /api/regenerate-index            - Force a full index rebuild
      POST   /api/sync/cleanup                - Apply pending soft deletions
      GET    /api/sync/status                 - Deletion lifecycle counters
      GET    /api/health                      - Health check endpoint
      GET    /metrics                         - Prometheus metrics

STORAGE BACKENDS:
    local   Local filesystem storage (default)
    gcs     Google Cloud Storage

EXAMPLES:
    # Local filesystem storage
    cuketrack-server --storage local --reports-dir ./reports

    # Google Cloud Storage with ADC
    cuketrack-server --storage gcs --gcs-bucket my-cucumber-reports

    # GCS with service account and prefix
    cuketrack-server --storage gcs \
        --gcs-bucket my-cucumber-reports \
        --gcs-prefix reports/production/ \
        --gcs-credentials /path/to/service-account.json

CONFIGURATION:
    Settings may also come from a YAML file (--config or CUKETRACK_CONFIG)
    and CUKETRACK_* environment variables. Command-line flags win.

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Flags override file and environment settings.
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *storageType != "" {
		cfg.Storage.Type = *storageType
	}
	if *reportsDir != "" {
		cfg.Storage.Dir = *reportsDir
	}
	if *gcsBucket != "" {
		cfg.Storage.GCS.Bucket = *gcsBucket
	}
	if *gcsPrefix != "" {
		cfg.Storage.GCS.Prefix = *gcsPrefix
	}
	if *gcsCredentials != "" {
		cfg.Storage.GCS.CredentialsFile = *gcsCredentials
	}
	if *softDefault {
		cfg.Deletion.SoftDefault = true
	}

	logger := newLogger(cfg.Logging)

	ctx := context.Background()
	store, err := initStorage(ctx, cfg.Storage, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("failed to close storage", "error", closeErr)
		}
	}()

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	ledger := deletion.New(store, logger, deletion.WithKeepBackups(cfg.Deletion.KeepBackups))
	builder := index.NewBuilder(store, ledger, logger, nil)
	service := ingest.New(store, ledger, builder, logger, ingest.Options{
		SoftDeleteDefault: cfg.Deletion.SoftDefault,
		BulkBatchSize:     cfg.Deletion.BulkBatchSize,
		BulkPause:         cfg.Deletion.BulkPause,
		CacheTTL:          cfg.Cache.TTL,
	})

	// Bring the catalog up to date before serving. A failure is logged, not
	// fatal: the stale index remains readable and a rebuild can be forced
	// over HTTP.
	if _, err := service.Rebuild(ctx); err != nil {
		logger.Error("initial index rebuild failed", "error", err)
	}

	srv := server.New(server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, service, logger, registry)

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	if err := srv.ListenAndServe(ctx); err != nil {
		// http.ErrServerClosed is expected during graceful shutdown
		if err.Error() != "http: Server closed" {
			logger.Error("server error", "error", err)
			cancel()
			logger.Info("server stopped")
			return
		}
	}

	logger.Info("server stopped")
}
