package cucumber

import "fmt"

// Validate checks structural completeness of a normalized feature sequence
// and returns human-readable defect strings. It never halts processing: the
// caller attaches the defects to the index and still records the report with
// best-effort metadata.
//
// Unlike the extractor, validation walks background scenarios too.
func Validate(features []Feature) []string {
	var defects []string

	for fi, f := range features {
		if f.Name == "" {
			defects = append(defects, fmt.Sprintf("Feature %d: Missing name", fi))
		}

		for si, sc := range f.Elements {
			if sc.Name == "" {
				defects = append(defects, fmt.Sprintf("Feature %d, Scenario %d: Missing name", fi, si))
			}

			for sti, step := range sc.Steps {
				if step.Name == "" {
					defects = append(defects, fmt.Sprintf("Feature %d, Scenario %d, Step %d: Missing name", fi, si, sti))
				}
				if step.Result == nil && step.Status == "" {
					defects = append(defects, fmt.Sprintf("Feature %d, Scenario %d, Step %d: Missing result/status", fi, si, sti))
				}
			}
		}
	}

	return defects
}
