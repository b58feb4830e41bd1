package cucumber

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/cuketrack/cuketrack/api"
)

// DefaultReportName is used when no feature carries a name.
const DefaultReportName = "Automation Test Results"

// durationUnitThreshold disambiguates nanosecond from second totals: sums
// above it are treated as nanoseconds and converted. Totals in the ambiguous
// band (~1ms to 1s of nanoseconds) are misclassified; the threshold is kept
// as-is for compatibility with existing catalogs.
const durationUnitThreshold = 1_000_000

// maxFilenameStem bounds the sanitized name portion of suggested filenames.
const maxFilenameStem = 80

// ExtractMetadata walks a normalized feature sequence and produces the flat
// statistics record for one report. filename is the blob's current name,
// raw its exact stored content, and modTime the blob modification time used
// as the last-resort date.
//
// Background scenarios contribute nothing here: no counts, no tags, no
// timestamps. Steps without any status are counted in Steps but in none of
// the passed/failed/skipped buckets, so those three may sum to less than
// Steps.
func ExtractMetadata(features []Feature, raw []byte, filename string, modTime time.Time) api.ReportMetadata {
	sum := sha256.Sum256(raw)

	meta := api.ReportMetadata{
		ID:   strings.TrimSuffix(filename, ".json"),
		Name: DefaultReportName,
		Size: int64(len(raw)),
		Hash: hex.EncodeToString(sum[:]),
	}

	tags := make(map[string]struct{})
	var date time.Time
	var dateStr string

	meta.Features = len(features)

	for fi := range features {
		f := &features[fi]

		if f.Name != "" && meta.Name == DefaultReportName {
			meta.Name = f.Name
		}

		for _, tag := range f.Tags {
			if clean := CleanTag(tag.Name); clean != "" {
				tags[clean] = struct{}{}
			}
		}

		for si := range f.Elements {
			sc := &f.Elements[si]
			if sc.Type == TypeBackground {
				continue
			}

			meta.Scenarios++

			for _, tag := range sc.Tags {
				if clean := CleanTag(tag.Name); clean != "" {
					tags[clean] = struct{}{}
				}
			}

			// Earliest scenario timestamp wins, compared as calendar
			// time rather than string order.
			if sc.StartTimestamp != "" {
				if t, ok := ParseTimestamp(sc.StartTimestamp); ok {
					if dateStr == "" || t.Before(date) {
						date = t
						dateStr = sc.StartTimestamp
					}
				}
			}

			for i := range sc.Steps {
				step := &sc.Steps[i]
				meta.Steps++

				switch step.resultStatus() {
				case StatusPassed:
					meta.Passed++
				case StatusFailed:
					meta.Failed++
				case StatusSkipped:
					meta.Skipped++
				}

				if step.Result != nil {
					meta.Duration += step.Result.Duration
				}
			}
		}

		if f.Metadata != nil {
			if meta.Environment == "" {
				meta.Environment = f.Metadata.Environment
			}
			if meta.Tool == "" {
				meta.Tool = f.Metadata.Tool
			}
			if meta.Version == "" {
				meta.Version = f.Metadata.Version
			}
			if dateStr == "" && f.Metadata.Timestamp != "" {
				dateStr = f.Metadata.Timestamp
				if t, ok := ParseTimestamp(f.Metadata.Timestamp); ok {
					date = t
				}
			}
		}
	}

	if meta.Duration > durationUnitThreshold {
		meta.Duration = meta.Duration / 1e9
	}

	meta.Tags = make([]string, 0, len(tags))
	for tag := range tags {
		meta.Tags = append(meta.Tags, tag)
	}
	sort.Strings(meta.Tags)

	if dateStr == "" {
		dateStr = FormatTimestamp(modTime)
	}
	meta.Date = dateStr

	meta.SuggestedFilename = SanitizeFilename(meta.Name) + "-" + FilenameTimestamp(dateStr) + ".json"

	return meta
}

// CleanTag strips the @ prefix and brace decoration from a tag value.
func CleanTag(tag string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '@', '{', '}':
			return -1
		}
		return r
	}, tag)
}

// SanitizeFilename reduces a report name to a safe path segment: whitespace
// becomes a dash, everything outside [A-Za-z0-9-_] is dropped, runs of
// dashes collapse, and the result is trimmed and bounded.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteByte('-')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	s := b.String()
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if len(s) > maxFilenameStem {
		s = s[:maxFilenameStem]
	}
	return s
}

// FilenameTimestamp makes a timestamp string safe for use in filenames by
// replacing colons and dots with dashes. This is the single place that
// filename timestamp formatting happens.
func FilenameTimestamp(ts string) string {
	ts = strings.ReplaceAll(ts, ":", "-")
	return strings.ReplaceAll(ts, ".", "-")
}
