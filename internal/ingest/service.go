// Package ingest coordinates the report pipeline: upload normalization,
// index rebuilds, the deletion lifecycle and the diagnostic views consumed
// by the HTTP layer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuketrack/cuketrack/api"
	"github.com/cuketrack/cuketrack/internal/cache"
	"github.com/cuketrack/cuketrack/internal/cucumber"
	"github.com/cuketrack/cuketrack/internal/deletion"
	"github.com/cuketrack/cuketrack/internal/index"
	"github.com/cuketrack/cuketrack/internal/metrics"
	"github.com/cuketrack/cuketrack/internal/storage"
)

const (
	cacheKeyIndex = "index"
	cacheKeyStats = "stats"

	// DefaultBulkBatchSize bounds concurrent in-flight deletions during a
	// bulk request.
	DefaultBulkBatchSize = 5

	// DefaultBulkPause is the pause between bulk deletion batches, keeping
	// pressure off the backing store.
	DefaultBulkPause = 100 * time.Millisecond

	// DefaultCacheTTL is how long served index/stats reads are cached.
	DefaultCacheTTL = 5 * time.Minute
)

// ErrMissingFeatures rejects uploads whose reportData does not carry a
// features array.
var ErrMissingFeatures = errors.New("invalid report data: missing features array")

// ErrInvalidFilename rejects filenames that are not plain report blob names.
var ErrInvalidFilename = errors.New("invalid report filename")

// Options configures a Service.
type Options struct {
	// SoftDeleteDefault selects soft deletion when a request does not pick a
	// type explicitly. Deployments on hosting that cannot delete files at
	// request time set this.
	SoftDeleteDefault bool

	// BulkBatchSize bounds concurrent deletions in a bulk request.
	BulkBatchSize int

	// BulkPause is the pause between bulk deletion batches.
	BulkPause time.Duration

	// CacheTTL is the TTL for cached index/stats reads.
	CacheTTL time.Duration

	// Clock is injected for deterministic timestamps in tests.
	Clock func() time.Time
}

// Service owns the report blobs for their lifetime and serializes index
// rebuilds behind a single mutex, so concurrent renames never interleave
// with a rebuild.
type Service struct {
	store   storage.Store
	ledger  *deletion.Manager
	builder *index.Builder
	cache   *cache.Cache
	logger  *slog.Logger
	opts    Options

	rebuildMu sync.Mutex
}

// New creates the ingestion service.
func New(store storage.Store, ledger *deletion.Manager, builder *index.Builder, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BulkBatchSize <= 0 {
		opts.BulkBatchSize = DefaultBulkBatchSize
	}
	if opts.BulkPause <= 0 {
		opts.BulkPause = DefaultBulkPause
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		store:   store,
		ledger:  ledger,
		builder: builder,
		cache:   cache.New(opts.CacheTTL, opts.Clock),
		logger:  logger,
		opts:    opts,
	}
}

// Upload accepts raw report data, normalizes and corrects it, persists the
// blob and rebuilds the index. The reportData must be a wrapper object with
// a features array; the stored blob is the normalized feature sequence.
func (s *Service) Upload(ctx context.Context, req api.UploadRequest) (*api.UploadResponse, error) {
	if req.ReportID == "" || len(req.ReportData) == 0 {
		return nil, fmt.Errorf("%w: reportId and reportData are required", ErrMissingFeatures)
	}
	if !cucumber.HasFeaturesField(req.ReportData) {
		return nil, ErrMissingFeatures
	}

	features, err := cucumber.Normalize(req.ReportData)
	if err != nil {
		return nil, err
	}

	if fixed := cucumber.FixSkippedSteps(features); fixed > 0 {
		s.logger.Info("auto-fixed skipped steps with duration", "steps", fixed)
		metrics.StepsCorrected(fixed)
	}

	data, err := cucumber.MarshalNormalized(features)
	if err != nil {
		return nil, fmt.Errorf("encode normalized report: %w", err)
	}

	ts := cucumber.FilenameTimestamp(cucumber.FormatTimestamp(s.opts.Clock()))
	filename := cucumber.SanitizeFilename(req.ReportID) + "-" + ts + ".json"

	if err := s.store.Put(ctx, filename, data); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	metrics.ReportIngested()
	s.logger.Info("report saved", "filename", filename, "features", len(features))

	if _, err := s.Rebuild(ctx); err != nil {
		return nil, err
	}

	return &api.UploadResponse{
		Success:  true,
		Message:  "Report uploaded successfully",
		Filename: filename,
		ReportID: req.ReportID,
		URL:      "/api/reports/" + filename,
	}, nil
}

// Rebuild regenerates the persisted index and statistics. Rebuilds are
// serialized; the catalog artifacts are replaced atomically by the store,
// so readers see either the old or the new index, never a partial one.
func (s *Service) Rebuild(ctx context.Context) (*api.Index, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := s.opts.Clock()
	idx, err := s.builder.Rebuild(ctx)
	if err != nil {
		return nil, err
	}
	metrics.ObserveRebuild(s.opts.Clock().Sub(start))

	s.cache.Clear()
	return idx, nil
}

// Index returns the persisted catalog, served through the TTL cache.
func (s *Service) Index(ctx context.Context) (*api.Index, error) {
	if v, ok := s.cache.Get(cacheKeyIndex); ok {
		return v.(*api.Index), nil
	}

	idx, err := index.Load(ctx, s.store)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKeyIndex, idx)
	return idx, nil
}

// Stats returns the standalone rollup statistics, served through the TTL
// cache. Nil when no stats artifact exists yet.
func (s *Service) Stats(ctx context.Context) (*api.RollupStatistics, error) {
	if v, ok := s.cache.Get(cacheKeyStats); ok {
		return v.(*api.RollupStatistics), nil
	}

	stats, err := index.LoadStats(ctx, s.store)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKeyStats, stats)
	return stats, nil
}

// GetReport reads one report blob verbatim.
func (s *Service) GetReport(ctx context.Context, filename string) ([]byte, error) {
	if err := checkFilename(filename); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, filename)
}

// Delete applies the deletion state machine to one report. soft picks the
// deletion type explicitly; nil falls back to the configured default policy.
// Every deletion triggers a rebuild.
func (s *Service) Delete(ctx context.Context, filename string, soft *bool) (api.DeleteResult, error) {
	result, err := s.deleteNoRebuild(ctx, filename, soft)
	if err != nil {
		return api.DeleteResult{}, err
	}
	if _, err := s.Rebuild(ctx); err != nil {
		return api.DeleteResult{}, err
	}
	return result, nil
}

func (s *Service) deleteNoRebuild(ctx context.Context, filename string, soft *bool) (api.DeleteResult, error) {
	if err := checkFilename(filename); err != nil {
		return api.DeleteResult{}, err
	}

	useSoft := s.opts.SoftDeleteDefault
	if soft != nil {
		useSoft = *soft
	}

	var result api.DeleteResult
	var err error
	if useSoft {
		result, err = s.ledger.MarkAsDeleted(ctx, filename)
	} else {
		result, err = s.ledger.DeleteReportFile(ctx, filename)
	}
	if err != nil {
		return api.DeleteResult{}, err
	}
	metrics.DeletionPerformed(result.Type)
	return result, nil
}

// Restore brings a soft-deleted report back into the visible set and
// rebuilds the index.
func (s *Service) Restore(ctx context.Context, filename string) error {
	if err := checkFilename(filename); err != nil {
		return err
	}
	if err := s.ledger.RestoreReport(ctx, filename); err != nil {
		return err
	}
	_, err := s.Rebuild(ctx)
	return err
}

// DeletedReports returns the deletion ledger records.
func (s *Service) DeletedReports(ctx context.Context) ([]api.DeletionRecord, error) {
	return s.ledger.Records(ctx)
}

// BulkDelete removes several reports in bounded batches with a short pause
// between batches. Each item's outcome is independent: failures are
// collected, never allowed to abort sibling operations. The index is
// rebuilt once at the end.
func (s *Service) BulkDelete(ctx context.Context, req api.BulkDeleteRequest) (*api.BulkDeleteResponse, error) {
	resp := &api.BulkDeleteResponse{Success: true}
	var mu sync.Mutex

	for start := 0; start < len(req.Filenames); start += s.opts.BulkBatchSize {
		end := start + s.opts.BulkBatchSize
		if end > len(req.Filenames) {
			end = len(req.Filenames)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, filename := range req.Filenames[start:end] {
			g.Go(func() error {
				item := api.BulkItemResult{Filename: filename, Success: true}
				if _, err := s.deleteNoRebuild(gctx, filename, req.Soft); err != nil {
					item.Success = false
					item.Error = err.Error()
				}
				mu.Lock()
				resp.Results = append(resp.Results, item)
				mu.Unlock()
				return nil
			})
		}
		// Per-item errors are captured in the results, not returned.
		_ = g.Wait() //nolint:errcheck

		if end < len(req.Filenames) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.opts.BulkPause):
			}
		}
	}

	resp.Summary.Total = len(req.Filenames)
	for _, r := range resp.Results {
		if r.Success {
			resp.Summary.Successful++
		} else {
			resp.Summary.Failed++
		}
	}

	if len(req.Filenames) > 0 {
		if _, err := s.Rebuild(ctx); err != nil {
			return nil, err
		}
	}

	s.logger.Info("bulk deletion completed",
		"total", resp.Summary.Total,
		"successful", resp.Summary.Successful,
		"failed", resp.Summary.Failed,
	)
	return resp, nil
}

// CleanupSweep hard-deletes every report flagged needsCleanup and marks the
// records cleaned up. Run at deploy time, when soft deletions accumulated in
// a read-only serving environment can finally be applied. Missing blobs are
// tolerated; their records are still marked.
func (s *Service) CleanupSweep(ctx context.Context) (int, error) {
	pending, err := s.ledger.ReportsNeedingCleanup(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var cleaned []string
	for _, record := range pending {
		if _, err := s.ledger.DeleteReportFile(ctx, record.Filename); err != nil {
			var notFound *storage.ErrNotFound
			if !errors.As(err, &notFound) {
				s.logger.Error("cleanup failed", "filename", record.Filename, "error", err)
				continue
			}
			// Blob already gone; still mark the record.
		}
		cleaned = append(cleaned, record.Filename)
	}

	if len(cleaned) > 0 {
		if err := s.ledger.MarkCleanedUp(ctx, cleaned); err != nil {
			return len(cleaned), err
		}
		if _, err := s.Rebuild(ctx); err != nil {
			return len(cleaned), err
		}
	}

	s.logger.Info("cleanup sweep completed", "cleaned", len(cleaned), "pending", len(pending))
	return len(cleaned), nil
}

// SyncStatus reports active/soft-deleted/pending-cleanup counts and the
// index generation timestamp.
func (s *Service) SyncStatus(ctx context.Context) (*api.SyncStatus, error) {
	idx, err := s.Index(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.ledger.Records(ctx)
	if err != nil {
		return nil, err
	}

	status := &api.SyncStatus{
		ActiveReports: len(idx.Reports),
		LastGenerated: idx.Generated,
	}
	for _, r := range records {
		if r.Type == api.DeletionSoft {
			status.SoftDeleted++
		}
		if r.NeedsCleanup {
			status.PendingCleanup++
		}
	}
	return status, nil
}

// StorageType returns the backing store's type identifier.
func (s *Service) StorageType() string {
	return s.store.Type()
}

// checkFilename rejects names that are not plain report blobs: path
// traversal, hidden files and catalog artifacts are all refused.
func checkFilename(filename string) error {
	if filename == "" ||
		strings.Contains(filename, "/") ||
		strings.Contains(filename, "\\") ||
		strings.Contains(filename, "..") ||
		!index.IsReportName(filename) {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return nil
}
