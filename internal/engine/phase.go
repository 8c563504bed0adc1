package engine

import "fmt"

// --- Phase state machine ---
//
// Initial phase: Implement. Terminals: Done, Failed.
// Forward path: Implement → Document → GenerateTests → Validate → Export → Done.
// Validate routes failures backwards by category: compile failures
// re-enter Implement, test failures re-enter GenerateTests, quality
// failures re-enter the phase owning the violated heuristic.
//
// Every rule here is checked by the engine against structured verdicts
// and tool-output shape — never inferred from model text.

// legalTools maps each phase to the closed set of tools callable in it.
// Terminal phases allow nothing.
var legalTools = map[Phase][]ToolName{
	PhaseImplement:     {ToolCodeGen},
	PhaseDocument:      {ToolDocEnrich},
	PhaseGenerateTests: {ToolTestGen},
	PhaseValidate:      {ToolValidate},
	PhaseExport:        {ToolExport},
}

// LegalTools returns a copy of the tool names legal in the given phase.
func LegalTools(p Phase) []ToolName {
	tools := legalTools[p]
	out := make([]ToolName, len(tools))
	copy(out, tools)
	return out
}

// Legal reports whether the tool may be dispatched in the phase.
func Legal(p Phase, t ToolName) bool {
	for _, name := range legalTools[p] {
		if name == t {
			return true
		}
	}
	return false
}

// forward maps each working phase to its forward successor.
var forward = map[Phase]Phase{
	PhaseImplement:     PhaseDocument,
	PhaseDocument:      PhaseGenerateTests,
	PhaseGenerateTests: PhaseValidate,
	PhaseValidate:      PhaseExport,
	PhaseExport:        PhaseDone,
}

// Next returns the forward successor of a working phase.
func Next(p Phase) (Phase, error) {
	next, ok := forward[p]
	if !ok {
		return "", fmt.Errorf("phase %q has no forward transition", p)
	}
	return next, nil
}

// checkEntry verifies a phase's entry condition: the artifacts it needs
// must be present on the snapshot. A violation is a state-machine bug,
// not a recoverable runtime error — the run fails fatally.
func checkEntry(p Phase, s *Snapshot) error {
	switch p {
	case PhaseImplement:
		return nil
	case PhaseDocument, PhaseGenerateTests:
		if s.Code == "" {
			return fmt.Errorf("phase %s entered without a code artifact", p)
		}
	case PhaseValidate:
		if s.Code == "" {
			return fmt.Errorf("phase validate entered without a code artifact")
		}
		if s.Tests == "" {
			return fmt.Errorf("phase validate entered without a test artifact")
		}
	case PhaseExport:
		if s.Code == "" || s.Tests == "" {
			return fmt.Errorf("phase export entered without code and test artifacts")
		}
		if !s.LastValidation.Clean() {
			return fmt.Errorf("phase export entered with failing validation (%s)", s.LastValidation.Summary())
		}
	}
	return nil
}

// routeFailure picks the re-entry phase for a failing validation
// verdict. The pipeline order is the tie-break when several checks fail
// at once: compile first, then tests, then quality flags in order.
func routeFailure(v *ValidationResult) (Phase, Category) {
	switch {
	case !v.Compiled:
		return PhaseImplement, CategoryCompile
	case v.TestsPassed < v.TestsTotal || v.TestsTotal == 0:
		return PhaseGenerateTests, CategoryTest
	case len(v.QualityFlags) > 0:
		return OwningPhase(v.QualityFlags[0]), CategoryQuality
	default:
		// Callers only route failing verdicts; a clean verdict here is
		// a programming error upstream.
		return PhaseImplement, CategoryTool
	}
}
