// Package api defines the wire types for the cuketrack report catalog.
package api

import "encoding/json"

// ReportMetadata is the derived statistics record for one stored report.
// It is computed fresh on every index rebuild and never persisted on its
// own, only embedded in the Index.
type ReportMetadata struct {
	// ID is the report identifier: the blob filename without the .json suffix.
	ID string `json:"id"`

	// Name is the display name, taken from the first feature of the report.
	Name string `json:"name"`

	// Date is the report timestamp as an ISO-8601 string. It is the earliest
	// scenario start_timestamp, falling back to feature metadata and finally
	// to the blob modification time.
	Date string `json:"date"`

	// Size is the blob size in bytes.
	Size int64 `json:"size"`

	Features  int `json:"features"`
	Scenarios int `json:"scenarios"`
	Steps     int `json:"steps"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Duration is the summed step duration. Raw sums above 1,000,000 are
	// assumed to be nanoseconds and reported as seconds; smaller sums are
	// passed through unchanged. Totals between roughly 1ms and 1s of
	// nanoseconds are therefore misclassified; this matches the established
	// catalog format and is deliberately left as-is.
	Duration float64 `json:"duration"`

	// Tags is the sorted, deduplicated union of feature and scenario tags.
	Tags []string `json:"tags"`

	Environment string `json:"environment,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Version     string `json:"version,omitempty"`

	// Hash is the SHA-256 digest of the stored blob content, used for
	// duplicate and change detection.
	Hash string `json:"hash"`

	// SuggestedFilename is the canonical blob name derived from Name and Date.
	SuggestedFilename string `json:"suggestedFilename,omitempty"`
}

// Index is the persisted report catalog. It is regenerated wholesale on every
// rebuild rather than patched incrementally.
type Index struct {
	Generated  string            `json:"generated"`
	Version    string            `json:"version"`
	Reports    []ReportMetadata  `json:"reports"`
	Statistics *RollupStatistics `json:"statistics,omitempty"`
	Errors     []FileError       `json:"errors,omitempty"`
	Renames    []Rename          `json:"renames,omitempty"`
}

// FileError records validation or parse failures for a single report file.
// A bad file produces one of these, never a failed rebuild.
type FileError struct {
	File   string   `json:"file"`
	Errors []string `json:"errors"`
}

// Rename records a blob renamed to its canonical filename during a rebuild.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RollupStatistics aggregates counters and rates across all indexed reports.
// Rates are percentage strings with two decimals ("0.00" when there are no
// steps), matching the catalog format consumed by the viewer.
type RollupStatistics struct {
	TotalReports    int     `json:"totalReports"`
	TotalFeatures   int     `json:"totalFeatures"`
	TotalScenarios  int     `json:"totalScenarios"`
	TotalSteps      int     `json:"totalSteps"`
	TotalPassed     int     `json:"totalPassed"`
	TotalFailed     int     `json:"totalFailed"`
	TotalSkipped    int     `json:"totalSkipped"`
	TotalDuration   float64 `json:"totalDuration"`
	TotalSize       int64   `json:"totalSize"`
	AverageDuration string  `json:"averageDuration"`
	PassRate        string  `json:"passRate"`
	FailRate        string  `json:"failRate"`
	SkipRate        string  `json:"skipRate"`

	OldestReport *ReportMetadata `json:"oldestReport,omitempty"`
	NewestReport *ReportMetadata `json:"newestReport,omitempty"`

	AllTags      []string `json:"allTags"`
	Environments []string `json:"environments"`
	Tools        []string `json:"tools"`
}

// Deletion types recorded in the ledger.
const (
	DeletionSoft = "soft"
	DeletionHard = "hard"
)

// DeletionRecord is one entry in the soft-delete ledger. The ledger, not the
// index, is the source of truth for report visibility.
type DeletionRecord struct {
	Filename     string `json:"filename"`
	DeletedAt    string `json:"deletedAt"`
	NeedsCleanup bool   `json:"needsCleanup"`
	Type         string `json:"type"`
	CleanedUpAt  string `json:"cleanedUpAt,omitempty"`
}

// DeleteResult reports the outcome of a single deletion operation.
type DeleteResult struct {
	Success        bool   `json:"success"`
	Type           string `json:"type"`
	Filename       string `json:"filename"`
	Message        string `json:"message"`
	AlreadyDeleted bool   `json:"alreadyDeleted,omitempty"`
}

// UploadRequest is the body accepted by the upload endpoint. ReportData must
// be a wrapper object carrying a features array; other report shapes are only
// accepted when placed directly in storage and picked up by a rebuild.
type UploadRequest struct {
	ReportID   string          `json:"reportId"`
	ReportData json.RawMessage `json:"reportData"`
	Name       string          `json:"name"`
}

// UploadResponse is returned after a successful upload and index rebuild.
type UploadResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	ReportID string `json:"reportId"`
	URL      string `json:"url"`
}

// BulkDeleteRequest asks for a batched deletion of several reports. When Soft
// is nil each deletion uses the server's configured default policy.
type BulkDeleteRequest struct {
	Filenames []string `json:"filenames"`
	Soft      *bool    `json:"soft,omitempty"`
}

// BulkItemResult is the independent outcome of one item in a bulk deletion.
type BulkItemResult struct {
	Filename string `json:"filename"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// BulkDeleteSummary totals the outcomes of a bulk deletion.
type BulkDeleteSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkDeleteResponse is returned by the bulk-delete endpoint.
type BulkDeleteResponse struct {
	Success bool              `json:"success"`
	Results []BulkItemResult  `json:"results"`
	Summary BulkDeleteSummary `json:"summary"`
}

// SyncStatus is a read-only diagnostic view over the index and the deletion
// ledger.
type SyncStatus struct {
	ActiveReports  int    `json:"activeReports"`
	SoftDeleted    int    `json:"softDeleted"`
	PendingCleanup int    `json:"pendingCleanup"`
	LastGenerated  string `json:"lastGenerated,omitempty"`
}
