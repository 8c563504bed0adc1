package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/spec"
)

// --- test fixtures ---

const sampleCode = "def add(a, b):\n    return a + b\n"

const sampleDocCode = "def add(a, b):\n    \"\"\"Add two integers.\"\"\"\n    return a + b\n"

const sampleTests = `import unittest
from add import add

class TestAdd(unittest.TestCase):
    def test_add_positive(self):
        self.assertEqual(add(1, 2), 3)

    def test_add_empty_like_zero(self):
        self.assertEqual(add(0, 0), 0)
`

func testDoc() *spec.Document {
	return spec.FromPrompt("add two integers", "add", true)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HistoryPath = ""
	cfg.MaxTurns = 40
	return cfg
}

func codeEffect() *Effect { return &Effect{Code: sampleCode, Summary: "generated code"} }

func docEffect() *Effect {
	return &Effect{Code: sampleDocCode, Doc: "Add two integers.", Summary: "added docstring"}
}

func testsEffect() *Effect { return &Effect{Tests: sampleTests, Summary: "generated tests"} }

func cleanVerdict() *Effect {
	return &Effect{Verdict: &ValidationResult{Compiled: true, TestsPassed: 2, TestsTotal: 2}}
}

func compileFailVerdict() *Effect {
	return &Effect{Verdict: &ValidationResult{
		Compiled: false,
		Details:  []string{"py_compile failed: SyntaxError: invalid syntax (line 2)"},
	}}
}

func exportEffect() *Effect {
	return &Effect{Exported: []string{"generated/add.py", "generated/test_add.py"}}
}

// scriptStep is one scripted tool invocation outcome.
type scriptStep struct {
	effect *Effect
	err    error
}

// scriptToolbox dispenses pre-scripted effects per tool, in order. An
// invocation with no remaining script entry fails the turn, which makes
// over-calls visible in test output.
type scriptToolbox struct {
	steps map[ToolName][]scriptStep
	calls []ToolName
}

func newScriptToolbox() *scriptToolbox {
	return &scriptToolbox{steps: make(map[ToolName][]scriptStep)}
}

func (s *scriptToolbox) add(name ToolName, effect *Effect, err error) *scriptToolbox {
	s.steps[name] = append(s.steps[name], scriptStep{effect: effect, err: err})
	return s
}

func (s *scriptToolbox) Has(name ToolName) bool {
	_, ok := s.steps[name]
	return ok
}

func (s *scriptToolbox) Invoke(_ context.Context, name ToolName, _ *Snapshot, _ map[string]any) (*Effect, error) {
	s.calls = append(s.calls, name)
	queue := s.steps[name]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unscripted call to %s", name)
	}
	step := queue[0]
	s.steps[name] = queue[1:]
	return step.effect, step.err
}

// happyToolbox scripts one clean pass through the full pipeline.
func happyToolbox() *scriptToolbox {
	return newScriptToolbox().
		add(ToolCodeGen, codeEffect(), nil).
		add(ToolDocEnrich, docEffect(), nil).
		add(ToolTestGen, testsEffect(), nil).
		add(ToolValidate, cleanVerdict(), nil).
		add(ToolExport, exportEffect(), nil)
}

func actionFor(tool ToolName) Decision {
	return Decision{Action: &Action{Tool: tool}}
}

// mustSubmit submits a decision and fails the test on an engine fault
// or a structured turn error.
func mustSubmit(t *testing.T, r *Run, d Decision) {
	t.Helper()
	e, err := r.Submit(context.Background(), d)
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e != nil {
		t.Fatalf("Submit: unexpected turn error: %v", e)
	}
}

// --- NewRun ---

func TestNewRun_RejectsMalformedSpec(t *testing.T) {
	doc := &spec.Document{} // no target, no behavior
	if _, err := NewRun(doc, testConfig(), happyToolbox(), nil); err == nil {
		t.Fatal("expected error for malformed specification")
	}
}

func TestNewRun_RejectsNilToolbox(t *testing.T) {
	if _, err := NewRun(testDoc(), testConfig(), nil, nil); err == nil {
		t.Fatal("expected error for nil toolbox")
	}
}

func TestNewRun_StartsInImplement(t *testing.T) {
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	if r.Phase() != PhaseImplement {
		t.Errorf("initial phase = %s, want %s", r.Phase(), PhaseImplement)
	}
	if r.ID == "" {
		t.Error("run ID is empty")
	}
}

// --- happy path: one clean pass through every phase ---

func TestRun_CleanPassReachesDone(t *testing.T) {
	tb := happyToolbox()
	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	sequence := []struct {
		tool      ToolName
		wantPhase Phase
	}{
		{ToolCodeGen, PhaseDocument},
		{ToolDocEnrich, PhaseGenerateTests},
		{ToolTestGen, PhaseValidate},
		{ToolValidate, PhaseExport},
		{ToolExport, PhaseDone},
	}
	for _, step := range sequence {
		mustSubmit(t, r, actionFor(step.tool))
		if r.Phase() != step.wantPhase {
			t.Fatalf("after %s: phase = %s, want %s", step.tool, r.Phase(), step.wantPhase)
		}
	}

	result := r.Result()
	if !result.OK {
		t.Errorf("result.OK = false, want true (reason: %s)", result.FailureReason)
	}
	if result.Turns != 5 {
		t.Errorf("result.Turns = %d, want 5", result.Turns)
	}
	if len(result.Files) != 2 {
		t.Errorf("result.Files = %v, want 2 exported files", result.Files)
	}
	for p, n := range result.Retries {
		if n != 0 {
			t.Errorf("retries[%s] = %d, want 0 on a clean pass", p, n)
		}
	}
}

// --- compile failure routes back to implement ---

func TestRun_CompileFailureReentersImplement(t *testing.T) {
	tb := newScriptToolbox().
		add(ToolCodeGen, codeEffect(), nil).
		add(ToolCodeGen, codeEffect(), nil).
		add(ToolDocEnrich, docEffect(), nil).
		add(ToolDocEnrich, docEffect(), nil).
		add(ToolTestGen, testsEffect(), nil).
		add(ToolTestGen, testsEffect(), nil).
		add(ToolValidate, compileFailVerdict(), nil).
		add(ToolValidate, cleanVerdict(), nil).
		add(ToolExport, exportEffect(), nil)

	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	mustSubmit(t, r, actionFor(ToolCodeGen))
	mustSubmit(t, r, actionFor(ToolDocEnrich))
	mustSubmit(t, r, actionFor(ToolTestGen))

	// The failing validation is a structured error, not an engine fault.
	e, err := r.Submit(context.Background(), actionFor(ToolValidate))
	if err != nil {
		t.Fatalf("Submit(validate): engine fault: %v", err)
	}
	if e == nil {
		t.Fatal("expected a structured error from the failing validation")
	}
	if e.Category != CategoryCompile {
		t.Errorf("error category = %s, want %s", e.Category, CategoryCompile)
	}
	if r.Phase() != PhaseImplement {
		t.Errorf("phase after compile failure = %s, want %s", r.Phase(), PhaseImplement)
	}

	snap := r.Snapshot()
	if snap.Retries[PhaseImplement] != 1 {
		t.Errorf("retries[implement] = %d, want 1", snap.Retries[PhaseImplement])
	}
	if len(snap.Feedback) == 0 || !strings.Contains(snap.Feedback[0], "CompileError") {
		t.Errorf("feedback = %v, want compile failure detail", snap.Feedback)
	}

	// Second attempt goes clean all the way to Done.
	for _, tool := range []ToolName{ToolCodeGen, ToolDocEnrich, ToolTestGen, ToolValidate, ToolExport} {
		mustSubmit(t, r, actionFor(tool))
	}
	result := r.Result()
	if !result.OK {
		t.Fatalf("run did not reach Done: phase=%s reason=%s", result.Phase, result.FailureReason)
	}
	if result.Retries[PhaseImplement] != 0 {
		t.Errorf("retries[implement] = %d after clean verdict, want 0", result.Retries[PhaseImplement])
	}
}

// --- quality failure routes to the owning phase, not implement ---

func TestRun_QualityFailureReentersOwningPhase(t *testing.T) {
	tooFewTests := &Effect{Verdict: &ValidationResult{
		Compiled:     true,
		TestsPassed:  2,
		TestsTotal:   2,
		QualityFlags: []QualityFlag{FlagTooFewTests},
		Details:      []string{"too-few-tests: found 2 test functions, need at least 3"},
	}}
	tb := newScriptToolbox().
		add(ToolCodeGen, codeEffect(), nil).
		add(ToolDocEnrich, docEffect(), nil).
		add(ToolTestGen, testsEffect(), nil).
		add(ToolValidate, tooFewTests, nil)

	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	mustSubmit(t, r, actionFor(ToolCodeGen))
	mustSubmit(t, r, actionFor(ToolDocEnrich))
	mustSubmit(t, r, actionFor(ToolTestGen))

	e, err := r.Submit(context.Background(), actionFor(ToolValidate))
	if err != nil {
		t.Fatalf("Submit(validate): engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryQuality {
		t.Fatalf("error = %v, want a %s", e, CategoryQuality)
	}
	if r.Phase() != PhaseGenerateTests {
		t.Errorf("phase = %s, want %s (quality flag owner)", r.Phase(), PhaseGenerateTests)
	}
	snap := r.Snapshot()
	if snap.Retries[PhaseGenerateTests] != 1 {
		t.Errorf("retries[generate-tests] = %d, want 1", snap.Retries[PhaseGenerateTests])
	}
	if snap.Retries[PhaseImplement] != 0 {
		t.Errorf("retries[implement] = %d, want 0 (implement is not at fault)", snap.Retries[PhaseImplement])
	}
}

// --- illegal tool for the phase ---

func TestRun_IllegalToolRejectedWithoutDispatch(t *testing.T) {
	tb := happyToolbox()
	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	e, err := r.Submit(context.Background(), actionFor(ToolDocEnrich))
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryDecision {
		t.Fatalf("error = %v, want a %s", e, CategoryDecision)
	}
	if len(tb.calls) != 0 {
		t.Errorf("toolbox was called (%v), want no dispatch on an illegal tool", tb.calls)
	}
	if r.Phase() != PhaseImplement {
		t.Errorf("phase = %s, want %s (same phase re-prompted)", r.Phase(), PhaseImplement)
	}
	if got := r.Snapshot().Retries[PhaseImplement]; got != 1 {
		t.Errorf("retries[implement] = %d, want 1", got)
	}
}

func TestRun_UnknownToolNameRejectedAtBoundary(t *testing.T) {
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	e, err := r.Submit(context.Background(), actionFor(ToolName("rm-rf")))
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryDecision {
		t.Fatalf("error = %v, want a %s for an unknown tool name", e, CategoryDecision)
	}
}

func TestRun_UnregisteredToolRejected(t *testing.T) {
	// A toolbox missing the validate tool: legal name, empty registry slot.
	tb := newScriptToolbox().add(ToolCodeGen, codeEffect(), nil)
	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	e, err := r.Submit(context.Background(), actionFor(ToolValidate))
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryTool {
		t.Fatalf("error = %v, want a %s for an unregistered tool", e, CategoryTool)
	}
}

// --- retry budget exhaustion ---

func TestRun_ImplementBudgetExhaustedByRepeatedCompileFailures(t *testing.T) {
	cfg := testConfig()
	cfg.PhaseRetryLimits = map[string]int{"implement": 3}

	tb := newScriptToolbox()
	for i := 0; i < 3; i++ {
		tb.add(ToolCodeGen, codeEffect(), nil)
		tb.add(ToolDocEnrich, docEffect(), nil)
		tb.add(ToolTestGen, testsEffect(), nil)
		tb.add(ToolValidate, compileFailVerdict(), nil)
	}

	r, err := NewRun(testDoc(), cfg, tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	// Three full cycles, each ending in a compile failure. The implement
	// counter survives the forward transitions in between.
	for cycle := 0; cycle < 3; cycle++ {
		mustSubmit(t, r, actionFor(ToolCodeGen))
		mustSubmit(t, r, actionFor(ToolDocEnrich))
		mustSubmit(t, r, actionFor(ToolTestGen))
		e, err := r.Submit(context.Background(), actionFor(ToolValidate))
		if err != nil {
			t.Fatalf("cycle %d: engine fault: %v", cycle, err)
		}
		if e == nil {
			t.Fatalf("cycle %d: expected a compile failure", cycle)
		}
	}

	result := r.Result()
	if result.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want %s", result.Phase, PhaseFailed)
	}
	if result.Retries[PhaseImplement] != 3 {
		t.Errorf("retries[implement] = %d, want 3", result.Retries[PhaseImplement])
	}
	if result.LastError == nil || result.LastError.Category != CategoryCompile {
		t.Errorf("last error = %v, want a %s", result.LastError, CategoryCompile)
	}
	if !strings.Contains(result.FailureReason, "retry budget exhausted in phase implement") {
		t.Errorf("failure reason = %q, want budget exhaustion", result.FailureReason)
	}
}

// --- terminal signals ---

func TestRun_BareDoneSignalRejected(t *testing.T) {
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	e, err := r.Submit(context.Background(), Decision{Done: true})
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryDecision {
		t.Fatalf("error = %v, want a %s", e, CategoryDecision)
	}
	if !strings.Contains(e.Detail, "export") {
		t.Errorf("detail = %q, want a pointer at the export tool", e.Detail)
	}
	if r.Terminal() {
		t.Error("run went terminal on a bare done signal")
	}
}

func TestRun_AbortFailsTheRun(t *testing.T) {
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	mustSubmit(t, r, Decision{Abort: true, Reason: "spec is unimplementable"})

	result := r.Result()
	if result.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want %s", result.Phase, PhaseFailed)
	}
	if !strings.Contains(result.FailureReason, "spec is unimplementable") {
		t.Errorf("failure reason = %q, want the abort reason", result.FailureReason)
	}
}

func TestRun_SubmitAfterTerminalIsAnEngineFault(t *testing.T) {
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	mustSubmit(t, r, Decision{Abort: true, Reason: "stop"})
	if _, err := r.Submit(context.Background(), actionFor(ToolCodeGen)); err == nil {
		t.Fatal("expected an error submitting to a finished run")
	}
}

// --- artifact shape checks ---

func TestRun_ImplausibleCodeArtifactRejected(t *testing.T) {
	tb := newScriptToolbox().add(ToolCodeGen, &Effect{Code: "TODO"}, nil)
	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	e, err := r.Submit(context.Background(), actionFor(ToolCodeGen))
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryTool {
		t.Fatalf("error = %v, want a %s for an implausible artifact", e, CategoryTool)
	}
	if r.Phase() != PhaseImplement {
		t.Errorf("phase = %s, want %s", r.Phase(), PhaseImplement)
	}
}

func TestRun_TestsWithoutTestFunctionsRejected(t *testing.T) {
	tb := newScriptToolbox().
		add(ToolCodeGen, codeEffect(), nil).
		add(ToolDocEnrich, docEffect(), nil).
		add(ToolTestGen, &Effect{Tests: "import unittest\n"}, nil)
	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	mustSubmit(t, r, actionFor(ToolCodeGen))
	mustSubmit(t, r, actionFor(ToolDocEnrich))
	e, err := r.Submit(context.Background(), actionFor(ToolTestGen))
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryTool {
		t.Fatalf("error = %v, want a %s", e, CategoryTool)
	}
}

// --- export failures are fatal ---

func TestRun_ExportFilesystemFaultIsFatal(t *testing.T) {
	tb := newScriptToolbox().
		add(ToolCodeGen, codeEffect(), nil).
		add(ToolDocEnrich, docEffect(), nil).
		add(ToolTestGen, testsEffect(), nil).
		add(ToolValidate, cleanVerdict(), nil).
		add(ToolExport, nil, fmt.Errorf("creating generated/add.py: file exists"))

	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	for _, tool := range []ToolName{ToolCodeGen, ToolDocEnrich, ToolTestGen, ToolValidate} {
		mustSubmit(t, r, actionFor(tool))
	}

	e, err := r.Submit(context.Background(), actionFor(ToolExport))
	if err != nil {
		t.Fatalf("Submit(export): engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryExport {
		t.Fatalf("error = %v, want a fatal %s", e, CategoryExport)
	}
	if r.Phase() != PhaseFailed {
		t.Errorf("phase = %s, want %s (export faults do not retry)", r.Phase(), PhaseFailed)
	}
}

// --- turn budget ---

func TestRun_TurnBudgetExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTurns = 2
	cfg.RetryLimit = 10 // keep the phase budget out of the way

	r, err := NewRun(testDoc(), cfg, happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	// Two illegal decisions burn the whole turn budget.
	_, _ = r.Submit(context.Background(), Decision{Done: true})
	_, _ = r.Submit(context.Background(), Decision{Done: true})

	result := r.Result()
	if result.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want %s", result.Phase, PhaseFailed)
	}
	if !strings.Contains(result.FailureReason, "turn budget exhausted") {
		t.Errorf("failure reason = %q, want turn budget exhaustion", result.FailureReason)
	}
	if result.LastError == nil || result.LastError.Category != CategoryBudget {
		t.Errorf("last error = %v, want a %s", result.LastError, CategoryBudget)
	}
}

// --- reject and interrupt ---

func TestRun_RejectCountsAgainstCurrentPhase(t *testing.T) {
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	e := r.Reject(CategoryDecision, "ActionParseError: no action block found")
	if e == nil || e.Category != CategoryDecision {
		t.Fatalf("error = %v, want a %s", e, CategoryDecision)
	}
	snap := r.Snapshot()
	if snap.Retries[PhaseImplement] != 1 {
		t.Errorf("retries[implement] = %d, want 1", snap.Retries[PhaseImplement])
	}
	if len(snap.Feedback) == 0 || !strings.Contains(snap.Feedback[0], "ActionParseError") {
		t.Errorf("feedback = %v, want the rejection reason", snap.Feedback)
	}
}

func TestRun_InterruptFailsTheRun(t *testing.T) {
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	r.Interrupt("context canceled")

	result := r.Result()
	if result.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want %s", result.Phase, PhaseFailed)
	}
	if !strings.Contains(result.FailureReason, "interrupted") {
		t.Errorf("failure reason = %q, want an interrupt marker", result.FailureReason)
	}
}

// --- recorder events ---

type recordedTurn struct {
	turn    int
	phase   Phase
	tool    string
	outcome string
}

type fakeRecorder struct {
	started  bool
	turns    []recordedTurn
	finished string
}

func (f *fakeRecorder) RunStarted(string, string, time.Time) { f.started = true }

func (f *fakeRecorder) TurnRecorded(_ string, turn int, phase Phase, tool, outcome, _ string) {
	f.turns = append(f.turns, recordedTurn{turn: turn, phase: phase, tool: tool, outcome: outcome})
}

func (f *fakeRecorder) RunFinished(_, status string, _ Phase, _ string) { f.finished = status }

func TestRun_RecorderSeesLifecycle(t *testing.T) {
	rec := &fakeRecorder{}
	r, err := NewRun(testDoc(), testConfig(), happyToolbox(), rec)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	for _, tool := range []ToolName{ToolCodeGen, ToolDocEnrich, ToolTestGen, ToolValidate, ToolExport} {
		mustSubmit(t, r, actionFor(tool))
	}

	if !rec.started {
		t.Error("RunStarted was never emitted")
	}
	if len(rec.turns) != 5 {
		t.Fatalf("recorded %d turns, want 5", len(rec.turns))
	}
	if last := rec.turns[4]; last.outcome != "done" {
		t.Errorf("final turn outcome = %q, want %q", last.outcome, "done")
	}
	if rec.finished != "done" {
		t.Errorf("finish status = %q, want %q", rec.finished, "done")
	}
}

// --- concurrent submissions ---

func TestRun_ConcurrentSubmissionsAreSerialized(t *testing.T) {
	const callers = 8

	cfg := testConfig()
	cfg.RetryLimit = 20
	tb := newScriptToolbox().add(ToolCodeGen, codeEffect(), nil)
	r, err := NewRun(testDoc(), cfg, tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}

	// Every caller submits the same action. Exactly one arrives while
	// code-gen is legal; the rest must each be rejected as a full,
	// separately-counted turn — a lost update would show up as a missing
	// turn or retry below.
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Submit(context.Background(), actionFor(ToolCodeGen)); err != nil {
				t.Errorf("Submit: engine fault: %v", err)
			}
			_ = r.Snapshot()
		}()
	}
	wg.Wait()

	snap := r.Snapshot()
	if snap.Turn != callers {
		t.Errorf("turn = %d, want %d (one committed turn per submission)", snap.Turn, callers)
	}
	if snap.Phase != PhaseDocument {
		t.Errorf("phase = %s, want %s", snap.Phase, PhaseDocument)
	}
	if got := snap.Retries[PhaseDocument]; got != callers-1 {
		t.Errorf("retries[document] = %d, want %d", got, callers-1)
	}
	if len(tb.calls) != 1 {
		t.Errorf("dispatched %d tool calls, want exactly 1", len(tb.calls))
	}
}

// --- timeouts ---

func TestRun_ValidationTimeoutCountsAgainstTheBudget(t *testing.T) {
	tb := newScriptToolbox().
		add(ToolCodeGen, codeEffect(), nil).
		add(ToolDocEnrich, docEffect(), nil).
		add(ToolTestGen, testsEffect(), nil).
		add(ToolValidate, nil, fmt.Errorf("unittest run: %w", context.DeadlineExceeded))
	r, err := NewRun(testDoc(), testConfig(), tb, nil)
	if err != nil {
		t.Fatalf("NewRun: %v", err)
	}
	mustSubmit(t, r, actionFor(ToolCodeGen))
	mustSubmit(t, r, actionFor(ToolDocEnrich))
	mustSubmit(t, r, actionFor(ToolTestGen))

	e, err := r.Submit(context.Background(), actionFor(ToolValidate))
	if err != nil {
		t.Fatalf("Submit: engine fault: %v", err)
	}
	if e == nil || e.Category != CategoryTimeout {
		t.Fatalf("error = %v, want a %s", e, CategoryTimeout)
	}

	snap := r.Snapshot()
	if snap.Phase != PhaseValidate {
		t.Errorf("phase = %s, want the timed-out phase retried in place", snap.Phase)
	}
	if got := snap.Retries[PhaseValidate]; got != 1 {
		t.Errorf("retries[validate] = %d, want 1", got)
	}
	if len(snap.Feedback) == 0 || !strings.Contains(snap.Feedback[0], "TimeoutError") {
		t.Errorf("feedback = %v, want the timeout attached", snap.Feedback)
	}
}
