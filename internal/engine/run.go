package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/spec"
	"github.com/google/uuid"
)

// Recorder receives run lifecycle events for persistence. Implemented
// by the history store; a nil Recorder is valid and means no recording.
type Recorder interface {
	RunStarted(id, target string, startedAt time.Time)
	TurnRecorded(id string, turn int, phase Phase, tool, outcome, detail string)
	RunFinished(id, status string, phase Phase, detail string)
}

// Run is one engine run: a single logical thread of control over one
// snapshot. The run serializes its own turns: Submit holds the run lock
// across validation, dispatch, and the snapshot swap, so concurrent
// callers (MCP requests for the same run ID) queue instead of
// interleaving turns.
type Run struct {
	ID string

	cfg     config.Config
	toolbox Toolbox
	rec     Recorder

	mu         sync.Mutex
	snap       *Snapshot
	history    []ValidationResult
	exported   []string
	lastError  *Error
	lastErrors map[Category]*Error
	// failureReason records why a Failed run stopped (budget, abort,
	// interrupt) separately from the last structured check error.
	failureReason string
}

// NewRun validates the specification and creates a run in the Implement
// phase. A malformed specification is fatal: the run never starts.
func NewRun(doc *spec.Document, cfg config.Config, tb Toolbox, rec Recorder) (*Run, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("rejecting specification: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rejecting config: %w", err)
	}
	if tb == nil {
		return nil, fmt.Errorf("run requires a toolbox")
	}

	r := &Run{
		ID:      uuid.NewString(),
		cfg:     cfg,
		toolbox: tb,
		rec:     rec,
		snap: &Snapshot{
			Phase:   PhaseImplement,
			Spec:    doc,
			Retries: make(map[Phase]int),
		},
		lastErrors: make(map[Category]*Error),
	}
	if rec != nil {
		rec.RunStarted(r.ID, doc.TargetName(), timeNow().UTC())
	}
	return r, nil
}

// Snapshot returns a deep copy of the live snapshot. The live snapshot
// is only ever replaced by the run itself, one turn at a time.
func (r *Run) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Clone()
}

// Phase returns the current phase.
func (r *Run) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Phase
}

// Terminal reports whether the run has finished.
func (r *Run) Terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap.Phase.Terminal()
}

// Submit processes exactly one decision: validate it against the phase
// machine, dispatch the selected tool, apply its effect, and advance or
// retry. The returned *Error describes a structured turn failure (which
// may or may not have ended the run); the plain error return is reserved
// for engine invariant violations — a state-machine bug, not a
// recoverable runtime condition.
func (r *Run) Submit(ctx context.Context, d Decision) (*Error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.Phase.Terminal() {
		return nil, fmt.Errorf("run %s already finished in phase %s", r.ID, r.snap.Phase)
	}

	next := r.snap.Clone()
	next.Turn++
	phase := next.Phase

	// Terminal signals first.
	if d.Abort {
		reason := d.Reason
		if reason == "" {
			reason = "no reason given"
		}
		r.failureReason = "aborted by decision interface: " + reason
		next.Phase = PhaseFailed
		r.commit(next, phase, "", "aborted", reason)
		return nil, nil
	}
	if d.Done {
		// The run only completes through a successful export; a bare
		// done signal is a decision error, not an early exit.
		e := newError(CategoryDecision, phase, "done signal rejected: runs complete via the export tool")
		return r.noteFailure(next, phase, phase, "", e), nil
	}

	// Boundary checks: closed enumeration, registry, phase legality.
	if d.Action == nil {
		e := newError(CategoryDecision, phase, "decision contained no action and no terminal signal")
		return r.noteFailure(next, phase, phase, "", e), nil
	}
	act := d.Action
	if err := ValidateTool(act.Tool); err != nil {
		e := newError(CategoryDecision, phase, "%v", err)
		return r.noteFailure(next, phase, phase, string(act.Tool), e), nil
	}
	if !r.toolbox.Has(act.Tool) {
		e := newError(CategoryTool, phase, "tool %q is not registered", act.Tool)
		return r.noteFailure(next, phase, phase, string(act.Tool), e), nil
	}
	if !Legal(phase, act.Tool) {
		e := newError(CategoryDecision, phase,
			"tool %q is illegal in phase %s (legal: %v)", act.Tool, phase, LegalTools(phase))
		return r.noteFailure(next, phase, phase, string(act.Tool), e), nil
	}

	// Entry condition of the current phase: required artifacts must be
	// present before any tool runs. A violation is a state-machine bug.
	if err := checkEntry(phase, next); err != nil {
		r.failureReason = "state machine invariant violated: " + err.Error()
		next.Phase = PhaseFailed
		r.commit(next, phase, string(act.Tool), "failed", err.Error())
		return nil, err
	}

	// Dispatch. Synchronous; the tool sees a clone, never the live
	// snapshot.
	effect, err := r.toolbox.Invoke(ctx, act.Tool, next.Clone(), act.Args)
	if err != nil {
		e := r.classifyToolError(phase, act.Tool, err)
		if e.Fatal() {
			r.recordError(e)
			r.failureReason = e.Feedback()
			next.Phase = PhaseFailed
			r.commit(next, phase, string(act.Tool), "failed", e.Detail)
			return e, nil
		}
		return r.noteFailure(next, phase, phase, string(act.Tool), e), nil
	}

	return r.apply(next, phase, act.Tool, effect)
}

// Reject counts a decision-transport failure (unparseable response,
// decision timeout) against the current phase's retry budget and
// attaches the rejection reason as feedback. The loop never silently
// substitutes a default action.
func (r *Run) Reject(cat Category, detail string) *Error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.Phase.Terminal() {
		return nil
	}
	next := r.snap.Clone()
	next.Turn++
	phase := next.Phase
	e := newError(cat, phase, "%s", detail)
	return r.noteFailure(next, phase, phase, "", e)
}

// Interrupt handles the cooperative stop signal, checked between turns:
// the run transitions to Failed with the recorded reason.
func (r *Run) Interrupt(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.snap.Phase.Terminal() {
		return
	}
	next := r.snap.Clone()
	phase := next.Phase
	r.failureReason = "interrupted: " + reason
	next.Phase = PhaseFailed
	r.commit(next, phase, "", "interrupted", reason)
}

// apply folds a successful tool effect into the next snapshot and runs
// the exit-condition check for the current phase.
func (r *Run) apply(next *Snapshot, phase Phase, tool ToolName, effect *Effect) (*Error, error) {
	if effect == nil {
		e := newError(CategoryTool, phase, "tool %q returned no effect", tool)
		return r.noteFailure(next, phase, phase, string(tool), e), nil
	}

	switch phase {
	case PhaseImplement:
		code := strings.TrimSpace(effect.Code)
		if code == "" || !strings.Contains(code, "def ") {
			e := newError(CategoryTool, phase, "code-gen produced an empty or implausible artifact")
			return r.noteFailure(next, phase, phase, string(tool), e), nil
		}
		next.Code = effect.Code
		next.Doc = ""
		next.LastValidation = nil // artifact changed — verdict is stale
		return r.advance(next, phase, tool, effect.Summary)

	case PhaseDocument:
		code := strings.TrimSpace(effect.Code)
		if code == "" || !strings.Contains(code, "def ") {
			e := newError(CategoryTool, phase, "doc-enrich produced an empty or implausible artifact")
			return r.noteFailure(next, phase, phase, string(tool), e), nil
		}
		next.Code = effect.Code
		next.Doc = effect.Doc
		next.LastValidation = nil
		return r.advance(next, phase, tool, effect.Summary)

	case PhaseGenerateTests:
		tests := strings.TrimSpace(effect.Tests)
		if tests == "" || !strings.Contains(tests, "def test_") {
			e := newError(CategoryTool, phase, "test-gen produced no test functions")
			return r.noteFailure(next, phase, phase, string(tool), e), nil
		}
		next.Tests = effect.Tests
		next.LastValidation = nil
		return r.advance(next, phase, tool, effect.Summary)

	case PhaseValidate:
		if effect.Verdict == nil {
			e := newError(CategoryTool, phase, "validate returned no verdict")
			return r.noteFailure(next, phase, phase, string(tool), e), nil
		}
		verdict := effect.Verdict
		next.LastValidation = verdict
		r.history = append(r.history, *verdict)
		if verdict.Clean() {
			return r.advance(next, phase, tool, verdict.Summary())
		}
		target, cat := routeFailure(verdict)
		e := newError(cat, phase, "%s", strings.Join(verdict.Details, "; "))
		return r.noteFailure(next, phase, target, string(tool), e), nil

	case PhaseExport:
		if len(effect.Exported) == 0 {
			e := newError(CategoryExport, phase, "export wrote no files")
			r.recordError(e)
			r.failureReason = e.Feedback()
			next.Phase = PhaseFailed
			r.commit(next, phase, string(tool), "failed", e.Detail)
			return e, nil
		}
		r.exported = effect.Exported
		return r.advance(next, phase, tool, strings.Join(effect.Exported, ", "))

	default:
		return nil, fmt.Errorf("apply called in unexpected phase %q", phase)
	}
}

// advance performs the forward transition out of phase. Feedback from
// prior failures is cleared; retry counters reset only once a clean
// verdict proves the artifact set, so failures attributed to a phase
// keep counting across validation cycles until validation passes.
func (r *Run) advance(next *Snapshot, phase Phase, tool ToolName, detail string) (*Error, error) {
	target, err := Next(phase)
	if err != nil {
		return nil, err
	}
	if phase == PhaseValidate {
		for p := range next.Retries {
			next.Retries[p] = 0
		}
	}
	next.Feedback = nil
	next.Phase = target

	if err := checkEntry(target, next); err != nil {
		r.failureReason = "state machine invariant violated: " + err.Error()
		next.Phase = PhaseFailed
		r.commit(next, phase, string(tool), "failed", err.Error())
		return nil, err
	}

	outcome := "advanced"
	if target == PhaseDone {
		outcome = "done"
	}
	r.commit(next, phase, string(tool), outcome, detail)
	return nil, nil
}

// noteFailure applies a recoverable failure: the TARGET phase's retry
// counter increments (for validation failures the target is the phase
// being re-entered, not Validate itself), the error is attached
// verbatim as feedback, and the budget is checked. Counters strictly
// increase on failure and only reset together on a clean verdict; when
// a counter reaches the phase's limit the budget is exhausted and the
// run fails with the triggering error as the last recorded error.
func (r *Run) noteFailure(next *Snapshot, phase, target Phase, tool string, e *Error) *Error {
	r.recordError(e)

	count := next.Retries[target] + 1
	next.Retries[target] = count

	limit := r.cfg.RetryLimitFor(string(target))
	if count >= limit {
		r.failureReason = fmt.Sprintf("retry budget exhausted in phase %s (%d/%d)", target, count, limit)
		next.Phase = PhaseFailed
		r.commit(next, phase, tool, "failed", r.failureReason+": "+e.Feedback())
		return e
	}

	feedback := []string{e.Feedback()}
	if e.Category == CategoryCompile || e.Category == CategoryTest || e.Category == CategoryQuality {
		// Validation failures carry every failed check, verbatim.
		if next.LastValidation != nil && len(next.LastValidation.Details) > 1 {
			feedback = append([]string{string(e.Category) + ":"}, next.LastValidation.Details...)
		}
	}
	next.Feedback = feedback
	next.Phase = target
	r.commit(next, phase, tool, "retry", e.Feedback())
	return e
}

// classifyToolError maps a tool invocation error onto the taxonomy:
// timeouts are TimeoutErrors, export filesystem faults are fatal
// ExportErrors, everything else is a retryable ToolError.
func (r *Run) classifyToolError(phase Phase, tool ToolName, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return newError(CategoryTimeout, phase, "%s timed out: %v", tool, err)
	case phase == PhaseExport:
		return newError(CategoryExport, phase, "%v", err)
	default:
		return newError(CategoryTool, phase, "%s: %v", tool, err)
	}
}

// recordError tracks the last structured error overall and per category.
func (r *Run) recordError(e *Error) {
	r.lastError = e
	r.lastErrors[e.Category] = e
}

// commit replaces the live snapshot, records the turn, enforces the
// overall turn budget, and emits the finish event on terminal phases.
func (r *Run) commit(next *Snapshot, phase Phase, tool, outcome, detail string) {
	r.snap = next

	if r.rec != nil {
		r.rec.TurnRecorded(r.ID, next.Turn, phase, tool, outcome, detail)
	}

	if !next.Phase.Terminal() && next.Turn >= r.cfg.MaxTurns {
		r.failureReason = fmt.Sprintf("turn budget exhausted (max_turns=%d)", r.cfg.MaxTurns)
		r.recordError(newError(CategoryBudget, next.Phase, "%s", r.failureReason))
		next.Phase = PhaseFailed
	}

	if next.Phase.Terminal() && r.rec != nil {
		status := "done"
		finishDetail := detail
		if next.Phase == PhaseFailed {
			status = "failed"
			finishDetail = r.failureReason
		}
		r.rec.RunFinished(r.ID, status, next.Phase, finishDetail)
	}
}

// --- Run result ---

// Result is what a finished run reports: the final artifact set and
// validation history on Done; the stalled phase, retry counts, and last
// structured error per check on Failed.
type Result struct {
	RunID         string                `json:"run_id"`
	OK            bool                  `json:"ok"`
	Phase         Phase                 `json:"phase"`
	Turns         int                   `json:"turns"`
	Retries       map[Phase]int         `json:"retries"`
	Code          string                `json:"code,omitempty"`
	Doc           string                `json:"doc,omitempty"`
	Tests         string                `json:"tests,omitempty"`
	Files         []string              `json:"files,omitempty"`
	History       []ValidationResult    `json:"validation_history,omitempty"`
	LastError     *Error                `json:"-"`
	LastErrors    map[Category]*Error   `json:"-"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

// Result snapshots the current outcome of the run. Valid on terminal
// runs; on a live run it reflects progress so far.
func (r *Run) Result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	retries := make(map[Phase]int, len(r.snap.Retries))
	for k, v := range r.snap.Retries {
		retries[k] = v
	}
	lastErrors := make(map[Category]*Error, len(r.lastErrors))
	for k, v := range r.lastErrors {
		lastErrors[k] = v
	}
	return &Result{
		RunID:         r.ID,
		OK:            r.snap.Phase == PhaseDone,
		Phase:         r.snap.Phase,
		Turns:         r.snap.Turn,
		Retries:       retries,
		Code:          r.snap.Code,
		Doc:           r.snap.Doc,
		Tests:         r.snap.Tests,
		Files:         append([]string(nil), r.exported...),
		History:       append([]ValidationResult(nil), r.history...),
		LastError:     r.lastError,
		LastErrors:    lastErrors,
		FailureReason: r.failureReason,
	}
}
