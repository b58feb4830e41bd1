package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cuketrack/cuketrack/api"
	"github.com/cuketrack/cuketrack/internal/cucumber"
	"github.com/cuketrack/cuketrack/internal/deletion"
	"github.com/cuketrack/cuketrack/internal/index"
	"github.com/cuketrack/cuketrack/internal/storage"
	"github.com/cuketrack/cuketrack/internal/storage/local"
)

func testClock() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T, opts Options) (*Service, *local.Store) {
	t.Helper()

	store, err := local.New(local.Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	logger := slog.Default()
	ledger := deletion.New(store, logger)
	builder := index.NewBuilder(store, ledger, logger, testClock)

	if opts.Clock == nil {
		opts.Clock = testClock
	}
	if opts.BulkPause == 0 {
		opts.BulkPause = time.Millisecond
	}
	return New(store, ledger, builder, logger, opts), store
}

const validUpload = `{
  "features": [{
    "name": "Login",
    "elements": [{
      "name": "valid credentials",
      "type": "scenario",
      "start_timestamp": "2024-03-01T10:00:00.000Z",
      "steps": [{"name": "step", "result": {"status": "passed", "duration": 100}}]
    }]
  }]
}`

func uploadReport(t *testing.T, s *Service, reportID string) *api.UploadResponse {
	t.Helper()

	resp, err := s.Upload(context.Background(), api.UploadRequest{
		ReportID:   reportID,
		ReportData: []byte(validUpload),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	return resp
}

func TestService_Upload(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, Options{})

	resp := uploadReport(t, s, "nightly run")

	if !resp.Success {
		t.Error("Success = false")
	}
	// The stored name combines the sanitized report ID with the upload time.
	if resp.Filename != "nightly-run-2024-06-01T12-00-00-000Z.json" {
		t.Errorf("Filename = %q, want sanitized ID plus timestamp", resp.Filename)
	}
	if !strings.HasPrefix(resp.URL, "/api/reports/") {
		t.Errorf("URL = %q, want /api/reports/ prefix", resp.URL)
	}

	idx, err := s.Index(ctx)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if len(idx.Reports) != 1 {
		t.Fatalf("got %d indexed reports, want 1", len(idx.Reports))
	}
	if idx.Reports[0].Name != "Login" {
		t.Errorf("Name = %q, want %q", idx.Reports[0].Name, "Login")
	}
}

func TestService_Upload_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  api.UploadRequest
	}{
		{
			name: "missing report id",
			req:  api.UploadRequest{ReportData: []byte(validUpload)},
		},
		{
			name: "missing report data",
			req:  api.UploadRequest{ReportID: "r1"},
		},
		{
			name: "bare array not accepted at upload",
			req:  api.UploadRequest{ReportID: "r1", ReportData: []byte(`[{"name":"F"}]`)},
		},
		{
			name: "object without features",
			req:  api.UploadRequest{ReportID: "r1", ReportData: []byte(`{"name":"F"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestService(t, Options{})
			_, err := s.Upload(context.Background(), tt.req)
			if !errors.Is(err, ErrMissingFeatures) {
				t.Errorf("Upload() error = %v, want ErrMissingFeatures", err)
			}
		})
	}
}

func TestService_Upload_CorrectsSkippedSteps(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{})

	body := `{
  "features": [{
    "name": "Corrected",
    "elements": [{
      "name": "s",
      "type": "scenario",
      "steps": [{"name": "ran anyway", "result": {"status": "skipped", "duration": 500}}]
    }]
  }]
}`
	resp, err := s.Upload(ctx, api.UploadRequest{ReportID: "r1", ReportData: []byte(body)})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	// The persisted blob carries the corrected status. The blob may have
	// been renamed to its canonical name by the rebuild, so find it.
	objects, err := store.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	var data []byte
	for _, obj := range objects {
		if index.IsReportName(obj.Name) {
			data, err = store.Get(ctx, obj.Name)
			if err != nil {
				t.Fatal(err)
			}
			break
		}
	}
	if data == nil {
		t.Fatalf("no report blob found after upload %q", resp.Filename)
	}

	features, err := cucumber.Normalize(data)
	if err != nil {
		t.Fatal(err)
	}
	status := features[0].Elements[0].Steps[0].Result.Status
	if status != cucumber.StatusPassed {
		t.Errorf("persisted step status = %q, want corrected to passed", status)
	}
}

func TestService_GetReport(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{})

	if err := store.Put(ctx, "r.json", []byte(`[{"name":"F"}]`)); err != nil {
		t.Fatal(err)
	}

	data, err := s.GetReport(ctx, "r.json")
	if err != nil {
		t.Fatalf("GetReport() error = %v", err)
	}
	if string(data) != `[{"name":"F"}]` {
		t.Errorf("GetReport() = %q, want raw blob", data)
	}
}

func TestService_GetReport_RejectsBadNames(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, Options{})

	for _, name := range []string{
		"",
		"../escape.json",
		".deleted-reports.json",
		".backups/r-backup-1.json",
		"index.json",
		"notes.txt",
	} {
		_, err := s.GetReport(ctx, name)
		if !errors.Is(err, ErrInvalidFilename) {
			t.Errorf("GetReport(%q) error = %v, want ErrInvalidFilename", name, err)
		}
	}
}

func TestService_GetReport_NotFound(t *testing.T) {
	s, _ := newTestService(t, Options{})

	_, err := s.GetReport(context.Background(), "missing.json")
	var notFound *storage.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("GetReport() error = %v, want *storage.ErrNotFound", err)
	}
}

func TestService_Delete_HardByDefault(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{})

	if err := store.Put(ctx, "r.json", []byte(`[{"name":"F"}]`)); err != nil {
		t.Fatal(err)
	}

	result, err := s.Delete(ctx, "r.json", nil)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if result.Type != api.DeletionHard {
		t.Errorf("Type = %q, want hard by default", result.Type)
	}

	var notFound *storage.ErrNotFound
	if _, err := store.Get(ctx, "r.json"); !errors.As(err, &notFound) {
		t.Errorf("blob still present after hard delete: %v", err)
	}
}

func TestService_Delete_SoftDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{SoftDeleteDefault: true})

	if err := store.Put(ctx, "r.json", []byte(`[{"name":"F"}]`)); err != nil {
		t.Fatal(err)
	}

	result, err := s.Delete(ctx, "r.json", nil)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if result.Type != api.DeletionSoft {
		t.Errorf("Type = %q, want soft per configured default", result.Type)
	}
	if _, err := store.Get(ctx, "r.json"); err != nil {
		t.Errorf("blob missing after soft delete: %v", err)
	}

	// Explicit request overrides the default.
	hard := false
	if err := store.Put(ctx, "r2.json", []byte(`[{"name":"F"}]`)); err != nil {
		t.Fatal(err)
	}
	result, err = s.Delete(ctx, "r2.json", &hard)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if result.Type != api.DeletionHard {
		t.Errorf("Type = %q, want explicit hard", result.Type)
	}
}

func TestService_Delete_RemovesFromIndex(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t, Options{})

	uploadReport(t, s, "keep")
	resp := uploadReport(t, s, "drop")

	soft := true
	if _, err := s.Delete(ctx, resp.Filename, &soft); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	idx, err := s.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Reports) != 1 {
		t.Errorf("got %d indexed reports after soft delete, want 1", len(idx.Reports))
	}
}

func TestService_RestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{})

	if err := store.Put(ctx, "r.json", []byte(`[{"name":"F","elements":[]}]`)); err != nil {
		t.Fatal(err)
	}

	soft := true
	if _, err := s.Delete(ctx, "r.json", &soft); err != nil {
		t.Fatal(err)
	}

	idx, err := s.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Reports) != 0 {
		t.Fatalf("got %d reports while soft-deleted, want 0", len(idx.Reports))
	}

	if err := s.Restore(ctx, "r.json"); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	idx, err = s.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(idx.Reports) != 1 {
		t.Errorf("got %d reports after restore, want 1", len(idx.Reports))
	}
}

func TestService_Restore_NeverDeleted(t *testing.T) {
	s, _ := newTestService(t, Options{})

	err := s.Restore(context.Background(), "never.json")
	if !errors.Is(err, deletion.ErrNotFoundInDeletedList) {
		t.Errorf("Restore() error = %v, want ErrNotFoundInDeletedList", err)
	}
}

func TestService_BulkDelete(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{BulkBatchSize: 2})

	files := []string{"a.json", "b.json", "c.json"}
	for _, f := range files {
		if err := store.Put(ctx, f, []byte(`[{"name":"F"}]`)); err != nil {
			t.Fatal(err)
		}
	}

	soft := false
	resp, err := s.BulkDelete(ctx, api.BulkDeleteRequest{
		Filenames: append(files, "missing.json"),
		Soft:      &soft,
	})
	if err != nil {
		t.Fatalf("BulkDelete() error = %v", err)
	}

	if resp.Summary.Total != 4 {
		t.Errorf("Total = %d, want 4", resp.Summary.Total)
	}
	if resp.Summary.Successful != 3 {
		t.Errorf("Successful = %d, want 3", resp.Summary.Successful)
	}
	if resp.Summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", resp.Summary.Failed)
	}
	if len(resp.Results) != 4 {
		t.Fatalf("got %d results, want 4", len(resp.Results))
	}

	// Failures are per-item and carry their cause.
	for _, r := range resp.Results {
		if r.Filename == "missing.json" {
			if r.Success {
				t.Error("missing.json reported success")
			}
			if r.Error == "" {
				t.Error("missing.json result has no error message")
			}
		} else if !r.Success {
			t.Errorf("%s failed: %s", r.Filename, r.Error)
		}
	}

	for _, f := range files {
		var notFound *storage.ErrNotFound
		if _, err := store.Get(ctx, f); !errors.As(err, &notFound) {
			t.Errorf("Get(%q) error = %v, want blob removed", f, err)
		}
	}
}

func TestService_CleanupSweep(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{SoftDeleteDefault: true})

	for _, f := range []string{"a.json", "b.json"} {
		if err := store.Put(ctx, f, []byte(`[{"name":"F"}]`)); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Delete(ctx, f, nil); err != nil {
			t.Fatal(err)
		}
	}

	cleaned, err := s.CleanupSweep(ctx)
	if err != nil {
		t.Fatalf("CleanupSweep() error = %v", err)
	}
	if cleaned != 2 {
		t.Errorf("CleanupSweep() = %d, want 2", cleaned)
	}

	// Blobs physically removed, records marked.
	for _, f := range []string{"a.json", "b.json"} {
		var notFound *storage.ErrNotFound
		if _, err := store.Get(ctx, f); !errors.As(err, &notFound) {
			t.Errorf("Get(%q) error = %v, want blob removed", f, err)
		}
	}

	status, err := s.SyncStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.PendingCleanup != 0 {
		t.Errorf("PendingCleanup = %d, want 0 after sweep", status.PendingCleanup)
	}

	// A second sweep has nothing to do.
	cleaned, err = s.CleanupSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cleaned != 0 {
		t.Errorf("second CleanupSweep() = %d, want 0", cleaned)
	}
}

func TestService_SyncStatus(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{})

	uploadReport(t, s, "active")
	if err := store.Put(ctx, "soft.json", []byte(`[{"name":"F"}]`)); err != nil {
		t.Fatal(err)
	}
	soft := true
	if _, err := s.Delete(ctx, "soft.json", &soft); err != nil {
		t.Fatal(err)
	}

	status, err := s.SyncStatus(ctx)
	if err != nil {
		t.Fatalf("SyncStatus() error = %v", err)
	}
	if status.ActiveReports != 1 {
		t.Errorf("ActiveReports = %d, want 1", status.ActiveReports)
	}
	if status.SoftDeleted != 1 {
		t.Errorf("SoftDeleted = %d, want 1", status.SoftDeleted)
	}
	if status.PendingCleanup != 1 {
		t.Errorf("PendingCleanup = %d, want 1", status.PendingCleanup)
	}
	if status.LastGenerated == "" {
		t.Error("LastGenerated is empty")
	}
}

func TestService_IndexCaching(t *testing.T) {
	ctx := context.Background()
	s, store := newTestService(t, Options{CacheTTL: time.Hour})

	first, err := s.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// A blob dropped behind the service's back is invisible until a rebuild
	// clears the cache.
	if err := store.Put(ctx, "sneaky.json", []byte(`[{"name":"F","elements":[]}]`)); err != nil {
		t.Fatal(err)
	}
	cached, err := s.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cached.Reports) != len(first.Reports) {
		t.Error("cached read picked up out-of-band change")
	}

	if _, err := s.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	fresh, err := s.Index(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh.Reports) != 1 {
		t.Errorf("got %d reports after rebuild, want 1", len(fresh.Reports))
	}
}

func TestService_StorageType(t *testing.T) {
	s, _ := newTestService(t, Options{})
	if s.StorageType() != "local" {
		t.Errorf("StorageType() = %q, want %q", s.StorageType(), "local")
	}
}
