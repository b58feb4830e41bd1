// Package cucumber provides parsing, normalization and metadata extraction
// for Cucumber-style BDD test-result JSON.
package cucumber

import (
	"encoding/json"
	"time"
)

// Scenario types that receive special handling.
const (
	TypeBackground = "background"
)

// Step result statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Feature is the top-level grouping of scenarios, corresponding to one
// behavioral specification file.
type Feature struct {
	ID          string           `json:"id,omitempty"`
	URI         string           `json:"uri,omitempty"`
	Keyword     string           `json:"keyword,omitempty"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Line        int              `json:"line,omitempty"`
	Tags        []Tag            `json:"tags,omitempty"`
	Elements    []Scenario       `json:"elements,omitempty"`
	Metadata    *FeatureMetadata `json:"metadata,omitempty"`
}

// FeatureMetadata carries run environment details emitted by some tools.
type FeatureMetadata struct {
	Environment string `json:"environment,omitempty"`
	Tool        string `json:"tool,omitempty"`
	Version     string `json:"version,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Scenario is one executable test case, or a shared background block, within
// a feature.
type Scenario struct {
	ID             string `json:"id,omitempty"`
	Keyword        string `json:"keyword,omitempty"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	Type           string `json:"type,omitempty"`
	Line           int    `json:"line,omitempty"`
	StartTimestamp string `json:"start_timestamp,omitempty"`
	Tags           []Tag  `json:"tags,omitempty"`
	Steps          []Step `json:"steps,omitempty"`
}

// Step is one Given/When/Then line within a scenario.
type Step struct {
	Keyword string      `json:"keyword,omitempty"`
	Name    string      `json:"name,omitempty"`
	Line    int         `json:"line,omitempty"`
	Match   *StepMatch  `json:"match,omitempty"`
	Result  *StepResult `json:"result,omitempty"`

	// Status is a top-level fallback some tools emit instead of result.status.
	Status string `json:"status,omitempty"`
}

// StepMatch is the step-definition location emitted by cucumber runners.
type StepMatch struct {
	Location string `json:"location,omitempty"`
}

// StepResult is the outcome of one step execution. Duration is in
// nanoseconds in well-formed reports, but some producers emit seconds;
// the extractor disambiguates heuristically at the report level.
type StepResult struct {
	Status       string  `json:"status,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Tag is a feature or scenario tag. Reports carry tags either as bare strings
// ("@smoke") or as objects ({"name":"@smoke","line":3}); both decode into Tag
// and re-encode in their original shape.
type Tag struct {
	Name string
	Line int

	bare bool
}

// UnmarshalJSON accepts both the string and the object tag form.
func (t *Tag) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		t.bare = true
		return json.Unmarshal(data, &t.Name)
	}
	var obj struct {
		Name string `json:"name"`
		Line int    `json:"line"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	t.Name = obj.Name
	t.Line = obj.Line
	return nil
}

// MarshalJSON re-emits the tag in the shape it arrived in so normalized blobs
// stay close to their source.
func (t Tag) MarshalJSON() ([]byte, error) {
	if t.bare {
		return json.Marshal(t.Name)
	}
	obj := struct {
		Name string `json:"name"`
		Line int    `json:"line,omitempty"`
	}{Name: t.Name, Line: t.Line}
	return json.Marshal(obj)
}

// resultStatus returns the step's status, preferring result.status over the
// top-level fallback. Empty means the step carries no status at all.
func (s *Step) resultStatus() string {
	if s.Result != nil && s.Result.Status != "" {
		return s.Result.Status
	}
	return s.Status
}

// timestampLayout is the canonical ISO-8601 form used for generated
// timestamps (index generation time, mtime fallbacks, backup names).
const timestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the canonical ISO-8601 UTC form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseLayouts are the accepted timestamp shapes, tried in order.
var parseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a report timestamp string. The boolean is false when
// no known layout matches; callers treat such dates as unordered rather than
// failing the report.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
