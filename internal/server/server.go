// Package server provides the HTTP interface to the report service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuketrack/cuketrack/api"
	"github.com/cuketrack/cuketrack/internal/cucumber"
	"github.com/cuketrack/cuketrack/internal/deletion"
	"github.com/cuketrack/cuketrack/internal/ingest"
	"github.com/cuketrack/cuketrack/internal/storage"
)

// maxUploadBytes bounds the accepted upload body size.
const maxUploadBytes = 64 << 20

// Config holds the server configuration.
type Config struct {
	// Host is the address to bind the HTTP server to.
	Host string
	// Port is the port number for the HTTP server.
	Port int
}

// ReportService is the ingestion surface the HTTP layer drives.
type ReportService interface {
	Upload(ctx context.Context, req api.UploadRequest) (*api.UploadResponse, error)
	Rebuild(ctx context.Context) (*api.Index, error)
	Index(ctx context.Context) (*api.Index, error)
	Stats(ctx context.Context) (*api.RollupStatistics, error)
	GetReport(ctx context.Context, filename string) ([]byte, error)
	Delete(ctx context.Context, filename string, soft *bool) (api.DeleteResult, error)
	Restore(ctx context.Context, filename string) error
	DeletedReports(ctx context.Context) ([]api.DeletionRecord, error)
	BulkDelete(ctx context.Context, req api.BulkDeleteRequest) (*api.BulkDeleteResponse, error)
	CleanupSweep(ctx context.Context) (int, error)
	SyncStatus(ctx context.Context) (*api.SyncStatus, error)
	StorageType() string
}

// Server represents the report HTTP server.
type Server struct {
	config  Config
	logger  *slog.Logger
	mux     *http.ServeMux
	service ReportService
}

// New creates a new Server instance over the given report service. The
// Prometheus registry may be nil to skip the metrics endpoint.
func New(cfg Config, service ReportService, logger *slog.Logger, reg *prometheus.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		service: service,
	}

	s.registerRoutes(reg)
	return s
}

// registerRoutes sets up the HTTP route handlers.
func (s *Server) registerRoutes(reg *prometheus.Registry) {
	s.mux.HandleFunc("POST /api/upload-report", s.handleUpload)

	s.mux.HandleFunc("GET /api/reports", s.handleIndex)
	s.mux.HandleFunc("GET /api/reports/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/reports/deleted", s.handleDeletedReports)
	s.mux.HandleFunc("GET /api/reports/{filename}", s.handleGetReport)
	s.mux.HandleFunc("DELETE /api/reports/{filename}", s.handleDelete)
	s.mux.HandleFunc("POST /api/reports/{filename}/restore", s.handleRestore)
	s.mux.HandleFunc("POST /api/reports/bulk-delete", s.handleBulkDelete)

	s.mux.HandleFunc("POST /api/regenerate-index", s.handleRegenerateIndex)

	s.mux.HandleFunc("POST /api/sync/cleanup", s.handleCleanup)
	s.mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)

	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	if reg != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.mux)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down server")
		if err := srv.Shutdown(context.Background()); err != nil {
			s.logger.Error("shutdown error", "error", err)
		}
	}()

	s.logger.Info("starting server",
		"addr", addr,
		"storage_type", s.service.StorageType(),
	)
	return srv.ListenAndServe()
}

// loggingMiddleware logs all incoming HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("incoming request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as the JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var notFound *storage.ErrNotFound
	switch {
	case errors.Is(err, cucumber.ErrInvalidFormat),
		errors.Is(err, ingest.ErrMissingFeatures),
		errors.Is(err, ingest.ErrInvalidFilename):
		status = http.StatusBadRequest
	case errors.As(err, &notFound),
		errors.Is(err, deletion.ErrNotFoundInDeletedList):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

// handleUpload accepts a raw report, runs the ingestion pipeline and returns
// the stored filename.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	var req api.UploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	resp, err := s.service.Upload(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleIndex serves the report catalog.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.service.Index(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, idx)
}

// handleStats serves the standalone rollup statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if stats == nil {
		http.Error(w, "statistics not generated yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleGetReport serves one report blob verbatim.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	data, err := s.service.GetReport(r.Context(), filename)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response", "filename", filename, "error", err)
	}
}

// handleDelete removes one report. The soft query parameter picks the
// deletion type; absent, the configured default policy applies.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	var soft *bool
	switch r.URL.Query().Get("soft") {
	case "true":
		v := true
		soft = &v
	case "false":
		v := false
		soft = &v
	}

	result, err := s.service.Delete(r.Context(), filename, soft)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleRestore brings a soft-deleted report back.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	if err := s.service.Restore(r.Context(), filename); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Report restored successfully",
		"filename": filename,
	})
}

// handleDeletedReports serves the deletion ledger.
func (s *Server) handleDeletedReports(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.DeletedReports(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []api.DeletionRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleBulkDelete removes several reports in one request.
func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req api.BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(req.Filenames) == 0 {
		http.Error(w, "filenames array is required", http.StatusBadRequest)
		return
	}

	resp, err := s.service.BulkDelete(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleRegenerateIndex forces a full index rebuild.
func (s *Server) handleRegenerateIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.service.Rebuild(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Index regenerated successfully",
		"reports": len(idx.Reports),
	})
}

// handleCleanup runs the deploy-time cleanup sweep.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned, err := s.service.CleanupSweep(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"cleaned": cleaned,
	})
}

// handleSyncStatus reports deletion lifecycle counters.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.SyncStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleHealth provides a simple health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reports := 0
	if idx, err := s.service.Index(r.Context()); err != nil {
		s.logger.Error("error reading index for health check", "error", err)
	} else {
		reports = len(idx.Reports)
	}

	status := struct {
		Status      string `json:"status"`
		StorageType string `json:"storage_type"`
		Reports     int    `json:"reports"`
	}{
		Status:      "ok",
		StorageType: s.service.StorageType(),
		Reports:     reports,
	}
	s.writeJSON(w, http.StatusOK, status)
}
