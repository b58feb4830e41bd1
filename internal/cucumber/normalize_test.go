package cucumber

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantFeatures int
		wantName     string
	}{
		{
			name:         "bare array",
			input:        `[{"name":"Login","elements":[]},{"name":"Search","elements":[]}]`,
			wantFeatures: 2,
			wantName:     "Login",
		},
		{
			name:         "features wrapper",
			input:        `{"features":[{"name":"Checkout","elements":[]}]}`,
			wantFeatures: 1,
			wantName:     "Checkout",
		},
		{
			name:         "single feature object",
			input:        `{"name":"Payments","elements":[{"name":"pay by card","steps":[]}]}`,
			wantFeatures: 1,
			wantName:     "Payments",
		},
		{
			name:         "empty array",
			input:        `[]`,
			wantFeatures: 0,
		},
		{
			name:         "leading whitespace",
			input:        "\n\t [{\"name\":\"Spaced\"}]",
			wantFeatures: 1,
			wantName:     "Spaced",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			features, err := Normalize([]byte(tt.input))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if len(features) != tt.wantFeatures {
				t.Fatalf("Normalize() returned %d features, want %d", len(features), tt.wantFeatures)
			}
			if tt.wantName != "" && features[0].Name != tt.wantName {
				t.Errorf("features[0].Name = %q, want %q", features[0].Name, tt.wantName)
			}
		})
	}
}

func TestNormalize_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty input", ""},
		{"whitespace only", "  \n\t "},
		{"scalar root", `42`},
		{"string root", `"not a report"`},
		{"object without features or elements", `{"foo":"bar"}`},
		{"object with non-array features", `{"features":{"name":"x"}}`},
		{"object with elements but no name", `{"elements":[]}`},
		{"malformed JSON", `[{"name":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.input))
			if err == nil {
				t.Fatal("Normalize() succeeded, want error")
			}
			if !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("error = %v, want ErrInvalidFormat", err)
			}
		})
	}
}

func TestNormalize_RoundTrip(t *testing.T) {
	input := `[
  {
    "name": "Login",
    "tags": ["@smoke", {"name": "@auth", "line": 2}],
    "elements": [
      {
        "name": "valid credentials",
        "type": "scenario",
        "start_timestamp": "2024-03-01T10:00:00.000Z",
        "steps": [
          {
            "keyword": "Given ",
            "name": "a registered user",
            "result": {"status": "passed", "duration": 1200000}
          }
        ]
      }
    ]
  }
]`

	features, err := Normalize([]byte(input))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	data, err := MarshalNormalized(features)
	if err != nil {
		t.Fatalf("MarshalNormalized() error = %v", err)
	}

	again, err := Normalize(data)
	if err != nil {
		t.Fatalf("Normalize() of re-encoded data error = %v", err)
	}

	if diff := cmp.Diff(features, again, cmpopts.EquateComparable(Tag{})); diff != "" {
		t.Errorf("round trip mismatch (-first +second):\n%s", diff)
	}
}

func TestNormalize_TagShapes(t *testing.T) {
	input := `[{"name":"F","tags":["@smoke",{"name":"@auth","line":3}],"elements":[]}]`

	features, err := Normalize([]byte(input))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(features[0].Tags) != 2 {
		t.Fatalf("got %d tags, want 2", len(features[0].Tags))
	}
	if features[0].Tags[0].Name != "@smoke" {
		t.Errorf("Tags[0].Name = %q, want %q", features[0].Tags[0].Name, "@smoke")
	}
	if features[0].Tags[1].Name != "@auth" || features[0].Tags[1].Line != 3 {
		t.Errorf("Tags[1] = %+v, want name @auth line 3", features[0].Tags[1])
	}

	// Re-encoding keeps each tag in its original shape.
	data, err := MarshalNormalized(features)
	if err != nil {
		t.Fatalf("MarshalNormalized() error = %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"@smoke"`) {
		t.Errorf("bare tag not re-encoded as string:\n%s", out)
	}
	if !strings.Contains(out, `"name": "@auth"`) {
		t.Errorf("object tag not re-encoded as object:\n%s", out)
	}
}

func TestHasFeaturesField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"wrapper with features array", `{"reportId":"r1","features":[]}`, true},
		{"bare array", `[{"name":"F"}]`, false},
		{"features as object", `{"features":{"name":"F"}}`, false},
		{"missing features", `{"reportId":"r1"}`, false},
		{"invalid JSON", `{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasFeaturesField([]byte(tt.input)); got != tt.want {
				t.Errorf("HasFeaturesField() = %v, want %v", got, tt.want)
			}
		})
	}
}
