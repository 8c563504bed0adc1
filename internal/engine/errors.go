package engine

import "fmt"

// Category classifies a structured engine error. The taxonomy is fixed:
// every failure that reaches the state machine carries exactly one of
// these categories, and the category — not free text — decides routing
// and retry accounting.
type Category string

const (
	// CategoryDecision — malformed or phase-illegal model action.
	CategoryDecision Category = "DecisionError"
	// CategoryTool — tool-internal failure (generator unavailable, etc.).
	CategoryTool Category = "ToolError"
	// CategoryCompile — the code artifact failed the compile check.
	CategoryCompile Category = "CompileError"
	// CategoryTest — one or more generated tests failed.
	CategoryTest Category = "TestFailure"
	// CategoryQuality — a quality heuristic was violated.
	CategoryQuality Category = "QualityViolation"
	// CategoryTimeout — a decision or validation call exceeded its budget.
	CategoryTimeout Category = "TimeoutError"
	// CategoryExport — a filesystem fault during export. Fatal.
	CategoryExport Category = "ExportError"
	// CategoryBudget — a phase exhausted its retry budget. Fatal.
	CategoryBudget Category = "RetryBudgetExceeded"
)

// Error is the structured error consumed by the phase state machine and
// surfaced in run results. Recoverable errors are attached verbatim
// (category + detail) to the next snapshot as feedback.
type Error struct {
	Category Category
	Phase    Phase
	Detail   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s in %s: %s", e.Category, e.Phase, e.Detail)
}

// Feedback renders the error the way it is attached to the next
// snapshot: category, then detail, never summarized.
func (e *Error) Feedback() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// Fatal reports whether the error ends the run immediately instead of
// counting against a retry budget.
func (e *Error) Fatal() bool {
	return e.Category == CategoryBudget || e.Category == CategoryExport
}

// newError builds a structured error for the given phase.
func newError(cat Category, phase Phase, format string, args ...any) *Error {
	return &Error{Category: cat, Phase: phase, Detail: fmt.Sprintf(format, args...)}
}
