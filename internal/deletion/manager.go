// Package deletion maintains the soft-delete ledger and the backup set for
// stored reports. The ledger, not the index, is the source of truth for
// report visibility: consumers cross-reference the index against it.
package deletion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuketrack/cuketrack/api"
	"github.com/cuketrack/cuketrack/internal/cucumber"
	"github.com/cuketrack/cuketrack/internal/storage"
)

const (
	// LedgerName is the hidden ledger file holding deletion records.
	LedgerName = ".deleted-reports.json"

	// BackupPrefix is the hidden pseudo-directory holding pre-deletion
	// backup copies.
	BackupPrefix = ".backups/"

	// DefaultKeepBackups bounds the backup set per overlay directory.
	DefaultKeepBackups = 10
)

// ErrNotFoundInDeletedList is returned when a restore targets a filename
// that was never soft-deleted.
var ErrNotFoundInDeletedList = errors.New("report not found in deleted list")

// Manager owns the deletion ledger and backup set. State machine per report:
// active -> soft-deleted -> active (restore), and active or soft-deleted ->
// hard-deleted (terminal, blob removed).
type Manager struct {
	store  storage.Store
	logger *slog.Logger
	keep   int
	now    func() time.Time

	// mu serializes ledger read-modify-write cycles; bulk deletions run
	// several in flight at once.
	mu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithKeepBackups overrides the backup retention bound.
func WithKeepBackups(n int) Option {
	return func(m *Manager) { m.keep = n }
}

// WithClock injects a clock for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a deletion manager over the given store.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:  store,
		logger: logger,
		keep:   DefaultKeepBackups,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Records returns all deletion records. A missing ledger reads as empty.
func (m *Manager) Records(ctx context.Context) ([]api.DeletionRecord, error) {
	data, err := m.store.Get(ctx, LedgerName)
	if err != nil {
		var notFound *storage.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read deletion ledger: %w", err)
	}

	var records []api.DeletionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse deletion ledger: %w", err)
	}
	return records, nil
}

func (m *Manager) saveRecords(ctx context.Context, records []api.DeletionRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode deletion ledger: %w", err)
	}
	if err := m.store.Put(ctx, LedgerName, data); err != nil {
		return fmt.Errorf("write deletion ledger: %w", err)
	}
	return nil
}

// MarkAsDeleted transitions a report from active to soft-deleted. The blob
// is left untouched; only intent is recorded, with needsCleanup set so a
// deploy-time sweep can perform the physical delete later. Calling it again
// for the same filename is a no-op reported via AlreadyDeleted.
func (m *Manager) MarkAsDeleted(ctx context.Context, filename string) (api.DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.Records(ctx)
	if err != nil {
		return api.DeleteResult{}, err
	}

	for _, r := range records {
		if r.Filename == filename {
			return api.DeleteResult{
				Success:        true,
				Type:           api.DeletionSoft,
				Filename:       filename,
				Message:        "Report already marked as deleted",
				AlreadyDeleted: true,
			}, nil
		}
	}

	records = append(records, api.DeletionRecord{
		Filename:     filename,
		DeletedAt:    cucumber.FormatTimestamp(m.now()),
		NeedsCleanup: true,
		Type:         api.DeletionSoft,
	})
	if err := m.saveRecords(ctx, records); err != nil {
		return api.DeleteResult{}, err
	}

	m.logger.Info("soft deleted report", "filename", filename)
	return api.DeleteResult{
		Success:  true,
		Type:     api.DeletionSoft,
		Filename: filename,
		Message:  "Report marked for deletion",
	}, nil
}

// DeleteReportFile hard-deletes a report: a backup copy is taken (best
// effort), the blob is removed, and the ledger records the terminal state.
// Returns storage.ErrNotFound when the blob does not exist.
func (m *Manager) DeleteReportFile(ctx context.Context, filename string) (api.DeleteResult, error) {
	if _, err := m.store.Stat(ctx, filename); err != nil {
		return api.DeleteResult{}, err
	}

	// Backup failures are logged, never block the deletion itself.
	if err := m.createBackup(ctx, filename); err != nil {
		m.logger.Error("backup creation failed", "filename", filename, "error", err)
	}

	if err := m.store.Delete(ctx, filename); err != nil {
		return api.DeleteResult{}, err
	}

	if err := m.recordHardDelete(ctx, filename); err != nil {
		m.logger.Error("failed to record hard delete", "filename", filename, "error", err)
	}

	m.logger.Info("hard deleted report", "filename", filename)
	return api.DeleteResult{
		Success:  true,
		Type:     api.DeletionHard,
		Filename: filename,
		Message:  "Report file deleted successfully",
	}, nil
}

// recordHardDelete marks the terminal state in the ledger: an existing soft
// record is promoted, otherwise a hard record is appended.
func (m *Manager) recordHardDelete(ctx context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.Records(ctx)
	if err != nil {
		return err
	}

	now := cucumber.FormatTimestamp(m.now())
	found := false
	for i := range records {
		if records[i].Filename == filename {
			records[i].Type = api.DeletionHard
			records[i].NeedsCleanup = false
			records[i].CleanedUpAt = now
			found = true
		}
	}
	if !found {
		records = append(records, api.DeletionRecord{
			Filename:  filename,
			DeletedAt: now,
			Type:      api.DeletionHard,
		})
	}
	return m.saveRecords(ctx, records)
}

// RestoreReport transitions a soft-deleted report back to active. Fails with
// ErrNotFoundInDeletedList when no soft record exists for the filename;
// hard-deleted reports are terminal and cannot be restored.
func (m *Manager) RestoreReport(ctx context.Context, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.Records(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i, r := range records {
		if r.Filename == filename && r.Type == api.DeletionSoft {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("%w: %s", ErrNotFoundInDeletedList, filename)
	}

	records = append(records[:idx], records[idx+1:]...)
	if err := m.saveRecords(ctx, records); err != nil {
		return err
	}

	m.logger.Info("restored report", "filename", filename)
	return nil
}

// IsDeleted reports whether any deletion record exists for filename.
func (m *Manager) IsDeleted(ctx context.Context, filename string) (bool, error) {
	records, err := m.Records(ctx)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.Filename == filename {
			return true, nil
		}
	}
	return false, nil
}

// SoftDeleted returns the set of filenames currently soft-deleted. The index
// builder filters these out of rebuilds.
func (m *Manager) SoftDeleted(ctx context.Context) (map[string]bool, error) {
	records, err := m.Records(ctx)
	if err != nil {
		return nil, err
	}
	hidden := make(map[string]bool)
	for _, r := range records {
		if r.Type == api.DeletionSoft {
			hidden[r.Filename] = true
		}
	}
	return hidden, nil
}

// ReportsNeedingCleanup returns records flagged for the deploy-time sweep:
// soft deletions accumulated while the serving environment could not remove
// files at request time.
func (m *Manager) ReportsNeedingCleanup(ctx context.Context) ([]api.DeletionRecord, error) {
	records, err := m.Records(ctx)
	if err != nil {
		return nil, err
	}
	var pending []api.DeletionRecord
	for _, r := range records {
		if r.NeedsCleanup {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// MarkCleanedUp clears the needsCleanup flag for the given filenames after
// the sweep has removed their blobs.
func (m *Manager) MarkCleanedUp(ctx context.Context, filenames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.Records(ctx)
	if err != nil {
		return err
	}

	cleaned := cucumber.FormatTimestamp(m.now())
	byName := make(map[string]bool, len(filenames))
	for _, f := range filenames {
		byName[f] = true
	}
	for i := range records {
		if byName[records[i].Filename] {
			records[i].NeedsCleanup = false
			records[i].CleanedUpAt = cleaned
		}
	}
	return m.saveRecords(ctx, records)
}

// RemoveFromIndex drops the report's entry from a loaded index and adjusts
// the rollup total. No-op when the report is not present.
func (m *Manager) RemoveFromIndex(index *api.Index, filename string) bool {
	if index == nil {
		return false
	}

	id := strings.TrimSuffix(filename, ".json")
	kept := index.Reports[:0]
	found := false
	for _, r := range index.Reports {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	index.Reports = kept

	if found && index.Statistics != nil {
		index.Statistics.TotalReports = len(index.Reports)
	}
	return found
}

// createBackup copies the blob into the backup subtree under a timestamped
// name, then prunes the backup set down to the retention bound.
func (m *Manager) createBackup(ctx context.Context, filename string) error {
	ts := cucumber.FilenameTimestamp(cucumber.FormatTimestamp(m.now()))
	backupName := BackupPrefix + strings.TrimSuffix(filename, ".json") + "-backup-" + ts + ".json"

	if err := m.store.Copy(ctx, filename, backupName); err != nil {
		return err
	}
	m.logger.Info("created backup", "backup", backupName)

	m.pruneBackups(ctx)
	return nil
}

// pruneBackups evicts the oldest backups by modification time beyond the
// retention bound. Errors are logged only.
func (m *Manager) pruneBackups(ctx context.Context) {
	objects, err := m.store.List(ctx, BackupPrefix)
	if err != nil {
		m.logger.Error("failed to list backups", "error", err)
		return
	}

	var backups []storage.ObjectInfo
	for _, obj := range objects {
		if strings.Contains(obj.Name, "-backup-") {
			backups = append(backups, obj)
		}
	}
	if len(backups) <= m.keep {
		return
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime.After(backups[j].ModTime)
	})
	for _, obj := range backups[m.keep:] {
		if err := m.store.Delete(ctx, obj.Name); err != nil {
			m.logger.Error("failed to evict old backup", "backup", obj.Name, "error", err)
			continue
		}
		m.logger.Info("evicted old backup", "backup", obj.Name)
	}
}
