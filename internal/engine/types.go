// Package engine implements the phase-driven decision loop: the memory
// snapshot reconstructed every turn, the phase state machine with entry
// and exit conditions and retry budgets, the tool-dispatch contract, and
// the turn-by-turn run that ties them together.
//
// The engine owns all control flow. The language model — reached through
// the Decider interface — only ever chooses the next action from the
// closed menu legal in the current phase. Tools execute side effects;
// the model never does.
//
// Design principles, shared with the rest of the codebase:
// - SRP: types, phase machine, run, and loop live in separate files
// - DIP: Toolbox, Decider, and Recorder are interfaces; the engine
//   depends on the abstractions, never on Gemini, MCP, or sqlite
package engine

import (
	"context"
	"fmt"

	"github.com/forgeworks/anvil/internal/spec"
)

// --- Phase enum ---

// Phase is a named stage of the generation pipeline. The current phase
// fully determines which tools are legal this turn.
type Phase string

const (
	PhaseImplement     Phase = "implement"
	PhaseDocument      Phase = "document"
	PhaseGenerateTests Phase = "generate-tests"
	PhaseValidate      Phase = "validate"
	PhaseExport        Phase = "export"
	PhaseFailed        Phase = "failed"
	PhaseDone          Phase = "done"
)

// validPhases is the set of recognized phases.
var validPhases = map[Phase]bool{
	PhaseImplement:     true,
	PhaseDocument:      true,
	PhaseGenerateTests: true,
	PhaseValidate:      true,
	PhaseExport:        true,
	PhaseFailed:        true,
	PhaseDone:          true,
}

// ValidatePhase returns an error if the phase is not recognized.
func ValidatePhase(p Phase) error {
	if !validPhases[p] {
		return fmt.Errorf("invalid phase %q", p)
	}
	return nil
}

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// --- Tool name enum ---

// ToolName identifies one entry in the closed tool menu.
type ToolName string

const (
	ToolCodeGen   ToolName = "code-gen"
	ToolDocEnrich ToolName = "doc-enrich"
	ToolTestGen   ToolName = "test-gen"
	ToolValidate  ToolName = "validate"
	ToolExport    ToolName = "export"
)

// validTools is the set of recognized tool names.
var validTools = map[ToolName]bool{
	ToolCodeGen:   true,
	ToolDocEnrich: true,
	ToolTestGen:   true,
	ToolValidate:  true,
	ToolExport:    true,
}

// ValidateTool returns an error if the tool name is outside the closed
// enumeration. This check runs at the boundary, before phase logic.
func ValidateTool(t ToolName) error {
	if !validTools[t] {
		return fmt.Errorf("unknown tool %q: must be one of: code-gen, doc-enrich, test-gen, validate, export", t)
	}
	return nil
}

// --- Action & decision ---

// Action is a single tool selection plus arguments, produced only by
// the Decision Interface.
type Action struct {
	Tool ToolName       `json:"tool_name"`
	Args map[string]any `json:"args,omitempty"`
}

// Decision is the Decision Interface output for one turn: exactly one
// action, or a terminal signal.
type Decision struct {
	Action *Action `json:"action,omitempty"`
	Abort  bool    `json:"abort,omitempty"`
	Done   bool    `json:"done,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// --- Validation verdict ---

// QualityFlag names one violated quality heuristic.
type QualityFlag string

const (
	// FlagMissingTarget — the target function definition is absent.
	FlagMissingTarget QualityFlag = "missing-target-function"
	// FlagDisallowedImport — a declared dependency is outside the allowlist.
	FlagDisallowedImport QualityFlag = "disallowed-import"
	// FlagTooFewTests — fewer test functions than the configured floor.
	FlagTooFewTests QualityFlag = "too-few-tests"
	// FlagNoEdgeCaseTest — no test matches the edge-case heuristic.
	FlagNoEdgeCaseTest QualityFlag = "no-edge-case-test"
)

// flagOwners maps each quality flag to the phase that owns fixing it.
// A quality-only validation failure re-enters the owning phase.
var flagOwners = map[QualityFlag]Phase{
	FlagMissingTarget:    PhaseImplement,
	FlagDisallowedImport: PhaseImplement,
	FlagTooFewTests:      PhaseGenerateTests,
	FlagNoEdgeCaseTest:   PhaseGenerateTests,
}

// OwningPhase returns the phase responsible for fixing a quality flag.
// Unknown flags default to Implement, the broadest fix surface.
func OwningPhase(f QualityFlag) Phase {
	if p, ok := flagOwners[f]; ok {
		return p
	}
	return PhaseImplement
}

// ValidationResult is the structured outcome of one validation pipeline
// execution over the current code/test artifact pair.
type ValidationResult struct {
	Compiled     bool          `json:"compiled"`
	TestsPassed  int           `json:"tests_passed"`
	TestsTotal   int           `json:"tests_total"`
	QualityFlags []QualityFlag `json:"quality_flags,omitempty"`
	// Details carries one human-readable line per failed check,
	// attached verbatim to the next snapshot as feedback.
	Details   []string `json:"details,omitempty"`
	RawOutput string   `json:"raw_output,omitempty"`
}

// Clean reports whether the verdict permits Validate → Export:
// compiled, all tests passed, and no blocking quality flags.
func (v *ValidationResult) Clean() bool {
	return v != nil && v.Compiled && v.TestsTotal > 0 &&
		v.TestsPassed == v.TestsTotal && len(v.QualityFlags) == 0
}

// Summary returns a one-line digest used in logs and history records.
func (v *ValidationResult) Summary() string {
	if v == nil {
		return "no validation"
	}
	return fmt.Sprintf("compiled=%t tests=%d/%d flags=%d",
		v.Compiled, v.TestsPassed, v.TestsTotal, len(v.QualityFlags))
}

// --- Memory snapshot ---

// Snapshot is the complete, serializable state handed to the decision
// step each turn. Exactly one snapshot is live per run; each turn
// produces a new snapshot derived from the previous one plus the effect
// of one tool call. Neither the model nor the tools mutate it in place.
type Snapshot struct {
	Phase          Phase             `json:"phase"`
	Spec           *spec.Document    `json:"spec"`
	Code           string            `json:"code,omitempty"`
	Doc            string            `json:"doc,omitempty"`
	Tests          string            `json:"tests,omitempty"`
	LastValidation *ValidationResult `json:"last_validation,omitempty"`
	Retries        map[Phase]int     `json:"retries"`
	Turn           int               `json:"turn"`
	// Feedback carries the failure detail (category + detail, verbatim)
	// from the previous turn, so the Decision Interface sees exactly
	// what failed. Cleared on every successful forward transition.
	Feedback []string `json:"feedback,omitempty"`
}

// Clone returns a deep copy. Tools and deciders receive clones so the
// live snapshot can only be replaced by the run itself.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	cp.Retries = make(map[Phase]int, len(s.Retries))
	for k, v := range s.Retries {
		cp.Retries[k] = v
	}
	if s.Feedback != nil {
		cp.Feedback = append([]string(nil), s.Feedback...)
	}
	if s.LastValidation != nil {
		v := *s.LastValidation
		v.QualityFlags = append([]QualityFlag(nil), s.LastValidation.QualityFlags...)
		v.Details = append([]string(nil), s.LastValidation.Details...)
		cp.LastValidation = &v
	}
	return &cp
}

// --- Tool dispatch contract ---

// Effect is what a tool hands back to the run: a new artifact, a
// validation verdict, or the exported file list. Exactly one group of
// fields is populated per tool.
type Effect struct {
	Code     string
	Doc      string
	Tests    string
	Verdict  *ValidationResult
	Exported []string
	// Summary describes the side effect for history records.
	Summary string
}

// Toolbox is the closed registry the run dispatches through. The engine
// calls tools by name only; anything outside the registry is rejected
// before dispatch.
type Toolbox interface {
	Has(name ToolName) bool
	Invoke(ctx context.Context, name ToolName, snap *Snapshot, args map[string]any) (*Effect, error)
}

// Decider is the Decision Interface: given a snapshot, return exactly
// one structured action or a terminal signal. Implementations live
// outside the engine (Gemini client, MCP drive mode, scripted tests).
type Decider interface {
	Decide(ctx context.Context, snap *Snapshot) (Decision, error)
}
