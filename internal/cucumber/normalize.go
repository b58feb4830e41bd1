package cucumber

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidFormat is returned when raw report data matches none of the
// accepted shapes. It is a per-file condition: callers record it against the
// file and keep going.
var ErrInvalidFormat = errors.New("invalid cucumber JSON format")

// Normalize converts raw report JSON into the canonical feature sequence.
// Three shapes are accepted:
//
//   - a bare array of features
//   - a {"features":[...]} wrapper object
//   - a single feature object (name and elements present)
//
// Everything downstream consumes only the normalized sequence and never
// re-inspects the raw form.
func Normalize(data []byte) ([]Feature, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidFormat)
	}

	switch trimmed[0] {
	case '[':
		var features []Feature
		if err := json.Unmarshal(data, &features); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		return features, nil

	case '{':
		var probe struct {
			Features json.RawMessage `json:"features"`
			Name     string          `json:"name"`
			Elements json.RawMessage `json:"elements"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}

		if isJSONArray(probe.Features) {
			var features []Feature
			if err := json.Unmarshal(probe.Features, &features); err != nil {
				return nil, fmt.Errorf("%w: features field: %v", ErrInvalidFormat, err)
			}
			return features, nil
		}

		if probe.Name != "" && isJSONArray(probe.Elements) {
			var feature Feature
			if err := json.Unmarshal(data, &feature); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
			}
			return []Feature{feature}, nil
		}

		return nil, fmt.Errorf("%w: object has neither a features array nor name+elements", ErrInvalidFormat)

	default:
		return nil, fmt.Errorf("%w: root must be an array or object", ErrInvalidFormat)
	}
}

// HasFeaturesField reports whether raw JSON is a wrapper object carrying a
// features array. The upload interface requires this shape before accepting
// a report.
func HasFeaturesField(data []byte) bool {
	var probe struct {
		Features json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return isJSONArray(probe.Features)
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// MarshalNormalized renders a feature sequence the way blobs are persisted:
// UTF-8 JSON with two-space indentation for human diffability.
func MarshalNormalized(features []Feature) ([]byte, error) {
	return json.MarshalIndent(features, "", "  ")
}
