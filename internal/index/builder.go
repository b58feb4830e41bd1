// Package index builds the persisted report catalog: a sorted index of
// per-report metadata plus a standalone rollup-statistics artifact.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cuketrack/cuketrack/api"
	"github.com/cuketrack/cuketrack/internal/cucumber"
	"github.com/cuketrack/cuketrack/internal/deletion"
	"github.com/cuketrack/cuketrack/internal/storage"
)

const (
	// IndexName is the persisted catalog artifact.
	IndexName = "index.json"

	// StatsName is the standalone rollup-statistics artifact, duplicated
	// from the index for lightweight polling.
	StatsName = "stats.json"

	// Version stamps generated indexes.
	Version = "2.0.0"
)

// Builder regenerates the catalog wholesale from the stored blobs. Rebuilds
// are deterministic given identical blob content, modulo the generation
// timestamp, and tolerate any single malformed file: one bad file produces
// one error entry, never a failed rebuild.
type Builder struct {
	store  storage.Store
	ledger *deletion.Manager
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder creates an index builder over the given store and deletion
// ledger. now may be nil for the wall clock.
func NewBuilder(store storage.Store, ledger *deletion.Manager, logger *slog.Logger, now func() time.Time) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Builder{store: store, ledger: ledger, logger: logger, now: now}
}

// Rebuild runs the full pipeline over every stored report blob (minus
// soft-deleted ones), persists index.json and stats.json, and returns the
// generated index.
func (b *Builder) Rebuild(ctx context.Context) (*api.Index, error) {
	hidden, err := b.ledger.SoftDeleted(ctx)
	if err != nil {
		return nil, fmt.Errorf("load deletion ledger: %w", err)
	}

	objects, err := b.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list report blobs: %w", err)
	}

	var reports []api.ReportMetadata
	var fileErrors []api.FileError

	for _, obj := range objects {
		if !IsReportName(obj.Name) || hidden[obj.Name] {
			continue
		}

		meta, defects, err := b.processBlob(ctx, obj)
		if err != nil {
			b.logger.Error("failed to process report", "file", obj.Name, "error", err)
			fileErrors = append(fileErrors, api.FileError{File: obj.Name, Errors: []string{err.Error()}})
			continue
		}
		if len(defects) > 0 {
			fileErrors = append(fileErrors, api.FileError{File: obj.Name, Errors: defects})
		}
		reports = append(reports, meta)
	}

	sortReports(reports)
	renames := b.organize(ctx, reports)
	stats := ComputeStatistics(reports)

	idx := &api.Index{
		Generated:  cucumber.FormatTimestamp(b.now()),
		Version:    Version,
		Reports:    reports,
		Statistics: &stats,
		Errors:     fileErrors,
		Renames:    renames,
	}
	if idx.Reports == nil {
		idx.Reports = []api.ReportMetadata{}
	}

	if err := b.writeJSON(ctx, IndexName, idx); err != nil {
		return nil, err
	}
	if err := b.writeJSON(ctx, StatsName, stats); err != nil {
		return nil, err
	}

	b.logger.Info("index rebuilt",
		"reports", len(reports),
		"errors", len(fileErrors),
		"renames", len(renames),
	)
	return idx, nil
}

// processBlob runs normalize, correct, validate and extract for one blob.
func (b *Builder) processBlob(ctx context.Context, obj storage.ObjectInfo) (api.ReportMetadata, []string, error) {
	raw, err := b.store.Get(ctx, obj.Name)
	if err != nil {
		return api.ReportMetadata{}, nil, err
	}

	features, err := cucumber.Normalize(raw)
	if err != nil {
		return api.ReportMetadata{}, nil, err
	}

	// Correction is in-memory only here; the orchestrator persists corrected
	// content at upload time.
	if fixed := cucumber.FixSkippedSteps(features); fixed > 0 {
		b.logger.Info("corrected skipped steps with duration", "file", obj.Name, "steps", fixed)
	}

	defects := cucumber.Validate(features)
	meta := cucumber.ExtractMetadata(features, raw, obj.Name, obj.ModTime)
	return meta, defects, nil
}

// organize renames blobs to their canonical suggested filenames. Collisions
// and failures leave the original name in place and are logged only.
func (b *Builder) organize(ctx context.Context, reports []api.ReportMetadata) []api.Rename {
	var renames []api.Rename
	for i := range reports {
		from := reports[i].ID + ".json"
		renamed, err := AssignCanonicalName(ctx, b.store, &reports[i])
		if err != nil {
			if errors.Is(err, ErrFilenameCollision) {
				b.logger.Warn("filename collision, keeping original name",
					"file", from, "target", reports[i].SuggestedFilename)
			} else {
				b.logger.Error("failed to rename report", "file", from, "error", err)
			}
			continue
		}
		if renamed {
			renames = append(renames, api.Rename{From: from, To: reports[i].SuggestedFilename})
			b.logger.Info("renamed report", "from", from, "to", reports[i].SuggestedFilename)
		}
	}
	return renames
}

func (b *Builder) writeJSON(ctx context.Context, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := b.store.Put(ctx, name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// sortReports orders reports newest-first by parsed calendar time.
// Unparseable dates sort last.
func sortReports(reports []api.ReportMetadata) {
	sort.SliceStable(reports, func(i, j int) bool {
		ti, oki := cucumber.ParseTimestamp(reports[i].Date)
		tj, okj := cucumber.ParseTimestamp(reports[j].Date)
		if oki != okj {
			return oki
		}
		return ti.After(tj)
	})
}

// IsReportName reports whether a stored object name is a report blob, as
// opposed to a catalog artifact, the ledger, or anything in a hidden
// subtree.
func IsReportName(name string) bool {
	return strings.HasSuffix(name, ".json") &&
		name != IndexName &&
		name != StatsName &&
		!strings.HasPrefix(name, ".") &&
		!strings.Contains(name, "/")
}

// ComputeStatistics aggregates rollup statistics across the given reports
// in a single pass. Rates divide by total steps and render as two-decimal
// percentage strings, with "0.00" guarding the zero-step case.
func ComputeStatistics(reports []api.ReportMetadata) api.RollupStatistics {
	stats := api.RollupStatistics{
		TotalReports:    len(reports),
		AverageDuration: "0.00",
		PassRate:        "0.00",
		FailRate:        "0.00",
		SkipRate:        "0.00",
		AllTags:         []string{},
		Environments:    []string{},
		Tools:           []string{},
	}

	tags := make(map[string]struct{})
	environments := make(map[string]struct{})
	tools := make(map[string]struct{})

	var oldest, newest time.Time
	for i := range reports {
		r := &reports[i]
		stats.TotalFeatures += r.Features
		stats.TotalScenarios += r.Scenarios
		stats.TotalSteps += r.Steps
		stats.TotalPassed += r.Passed
		stats.TotalFailed += r.Failed
		stats.TotalSkipped += r.Skipped
		stats.TotalDuration += r.Duration
		stats.TotalSize += r.Size

		for _, tag := range r.Tags {
			tags[tag] = struct{}{}
		}
		if r.Environment != "" {
			environments[r.Environment] = struct{}{}
		}
		if r.Tool != "" {
			tools[r.Tool] = struct{}{}
		}

		t, ok := cucumber.ParseTimestamp(r.Date)
		if !ok {
			continue
		}
		if stats.OldestReport == nil || t.Before(oldest) {
			oldest = t
			stats.OldestReport = r
		}
		if stats.NewestReport == nil || t.After(newest) {
			newest = t
			stats.NewestReport = r
		}
	}

	if stats.TotalSteps > 0 {
		total := float64(stats.TotalSteps)
		stats.PassRate = fmt.Sprintf("%.2f", float64(stats.TotalPassed)/total*100)
		stats.FailRate = fmt.Sprintf("%.2f", float64(stats.TotalFailed)/total*100)
		stats.SkipRate = fmt.Sprintf("%.2f", float64(stats.TotalSkipped)/total*100)
	}
	if len(reports) > 0 {
		stats.AverageDuration = fmt.Sprintf("%.2f", stats.TotalDuration/float64(len(reports)))
	}

	stats.AllTags = sortedKeys(tags)
	stats.Environments = sortedKeys(environments)
	stats.Tools = sortedKeys(tools)
	return stats
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load reads the persisted index. A missing artifact returns an empty index
// rather than an error, matching first-boot behavior.
func Load(ctx context.Context, store storage.Store) (*api.Index, error) {
	data, err := store.Get(ctx, IndexName)
	if err != nil {
		var notFound *storage.ErrNotFound
		if errors.As(err, &notFound) {
			return &api.Index{Reports: []api.ReportMetadata{}, Version: Version}, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}

	var idx api.Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return &idx, nil
}

// LoadStats reads the persisted rollup statistics. Missing artifact returns
// nil statistics.
func LoadStats(ctx context.Context, store storage.Store) (*api.RollupStatistics, error) {
	data, err := store.Get(ctx, StatsName)
	if err != nil {
		var notFound *storage.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stats: %w", err)
	}

	var stats api.RollupStatistics
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("parse stats: %w", err)
	}
	return &stats, nil
}
