// Package spec defines the specification document that seeds a run.
//
// A specification is either authored as a structured JSON/YAML document
// or normalized from a short prompt plus an explicit target name. Once a
// run accepts it, the document is read-only: every turn sees the same
// specification inside the snapshot.
package spec

import (
	"fmt"
	"strings"
)

// Function describes the single target the run must implement.
type Function struct {
	Name    string   `json:"name" yaml:"name"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	Returns string   `json:"returns,omitempty" yaml:"returns,omitempty"`
}

// Behavior holds the behavioral requirements and constraints.
type Behavior struct {
	Description string   `json:"description" yaml:"description"`
	Constraints []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Quality holds the per-spec quality knobs consumed by the doc-enrich
// tool and the quality gates. Zero values fall back to engine config.
type Quality struct {
	DocstringStyle      string `json:"docstring_style,omitempty" yaml:"docstring_style,omitempty"`
	MinTests            int    `json:"min_tests,omitempty" yaml:"min_tests,omitempty"`
	RequireEdgeCaseTest bool   `json:"must_include_edge_case_test,omitempty" yaml:"must_include_edge_case_test,omitempty"`
}

// Document is the normalized specification for one run.
type Document struct {
	ID         string   `json:"id" yaml:"id"`
	Language   string   `json:"language" yaml:"language"`
	StdlibOnly bool     `json:"stdlib_only" yaml:"stdlib_only"`
	Function   Function `json:"function" yaml:"function"`
	Behavior   Behavior `json:"behavior" yaml:"behavior"`
	Examples   []string `json:"examples,omitempty" yaml:"examples,omitempty"`
	EdgeCases  []string `json:"edge_cases,omitempty" yaml:"edge_cases,omitempty"`
	Quality    Quality  `json:"quality" yaml:"quality"`
}

// FromPrompt normalizes a bare prompt plus target name into a minimal
// structured document — enough to drive the full pipeline.
func FromPrompt(prompt, name string, stdlibOnly bool) *Document {
	return &Document{
		ID:         name + "_v1",
		Language:   "python",
		StdlibOnly: stdlibOnly,
		Function:   Function{Name: name, Returns: "Any"},
		Behavior:   Behavior{Description: prompt},
		Quality: Quality{
			DocstringStyle:      "google",
			MinTests:            3,
			RequireEdgeCaseTest: true,
		},
	}
}

// Validate rejects malformed specifications. A malformed specification
// is fatal — the engine refuses to start the run (no retry applies).
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("specification is nil")
	}
	if strings.TrimSpace(d.Function.Name) == "" {
		return fmt.Errorf("specification missing target function name")
	}
	if strings.TrimSpace(d.Behavior.Description) == "" {
		return fmt.Errorf("specification %q missing behavior description", d.Function.Name)
	}
	if d.Language != "" && d.Language != "python" {
		return fmt.Errorf("unsupported target language %q: only python is supported", d.Language)
	}
	if d.Quality.MinTests < 0 {
		return fmt.Errorf("quality.min_tests must be >= 0, got %d", d.Quality.MinTests)
	}
	return nil
}

// TargetName returns the trimmed target function name.
func (d *Document) TargetName() string {
	return strings.TrimSpace(d.Function.Name)
}

// ModuleName derives a filesystem/import-safe Python module name from
// the target function name.
//
// Rules:
//   - lowercase
//   - runs of non [a-z0-9_] characters collapse to a single underscore
//   - leading/trailing underscores are trimmed
//   - a leading digit gets an "m_" prefix
//   - empty input falls back to "generated_module"
func (d *Document) ModuleName() string {
	name := strings.ToLower(strings.TrimSpace(d.Function.Name))

	var b strings.Builder
	prevUnderscore := false
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}

	mod := strings.Trim(b.String(), "_")
	if mod == "" {
		return "generated_module"
	}
	if mod[0] >= '0' && mod[0] <= '9' {
		mod = "m_" + mod
	}
	return mod
}

// renderLimit caps the compact rendering used inside prompts.
const renderLimit = 3500

// Render returns a compact, prompt-friendly rendering of the document.
func (d *Document) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", d.ID)
	fmt.Fprintf(&b, "target: %s(%s) -> %s\n", d.Function.Name, strings.Join(d.Function.Args, ", "), d.Function.Returns)
	fmt.Fprintf(&b, "stdlib_only: %t\n", d.StdlibOnly)
	fmt.Fprintf(&b, "behavior: %s\n", d.Behavior.Description)
	for _, c := range d.Behavior.Constraints {
		fmt.Fprintf(&b, "constraint: %s\n", c)
	}
	for _, e := range d.Examples {
		fmt.Fprintf(&b, "example: %s\n", e)
	}
	for _, e := range d.EdgeCases {
		fmt.Fprintf(&b, "edge_case: %s\n", e)
	}
	if d.Quality.MinTests > 0 {
		fmt.Fprintf(&b, "min_tests: %d\n", d.Quality.MinTests)
	}

	s := b.String()
	if len(s) > renderLimit {
		s = s[:renderLimit-3] + "..."
	}
	return s
}
