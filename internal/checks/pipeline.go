// Package checks implements the validation pipeline: an ordered
// sequence of compile check, test execution, and heuristic quality
// gates over a code/test artifact pair.
//
// Only a compile failure short-circuits the later checks — no test can
// execute against uncompilable code. Test failures do NOT suppress the
// quality gates: the verdict carries every failed check so the decision
// step gets complete feedback in one pass.
//
// The Python toolchain is the black-box verdict source; the pipeline
// shells out and interprets exit codes and output, nothing more.
package checks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/spec"
)

// commandOutput is the raw outcome of one subprocess invocation.
type commandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// runCommand is a package-level variable so tests can fake the Python
// toolchain without spawning processes.
var runCommand = func(ctx context.Context, dir, bin string, args ...string) (commandOutput, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := commandOutput{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		// The deadline killed the subprocess; surface the context error
		// so callers can classify it as a timeout.
		return out, fmt.Errorf("%s: %w", bin, ctx.Err())
	case errorsAs(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	default:
		return out, fmt.Errorf("running %s: %w", bin, err)
	}
}

// errorsAs is a tiny indirection kept next to runCommand so the fake in
// tests doesn't need to reproduce exec error plumbing.
func errorsAs(err error, target *(*exec.ExitError)) bool {
	e, ok := err.(*exec.ExitError)
	if ok {
		*target = e
	}
	return ok
}

// Pipeline runs the three ordered checks against a specification's
// current artifacts.
type Pipeline struct {
	cfg config.Config
}

// New creates a validation pipeline with the given engine config.
func New(cfg config.Config) *Pipeline {
	return &Pipeline{cfg: cfg}
}

// Run executes the pipeline: (a) compile check, (b) test run,
// (c) quality gates. The returned verdict is the structured outcome;
// the error return is reserved for pipeline infrastructure faults
// (temp dir creation, interpreter missing, timeout).
func (p *Pipeline) Run(ctx context.Context, doc *spec.Document, code, tests string) (*engine.ValidationResult, error) {
	module := doc.ModuleName()

	dir, err := os.MkdirTemp("", "anvil-checks-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	modPath := filepath.Join(dir, module+".py")
	testPath := filepath.Join(dir, "test_"+module+".py")
	if err := os.WriteFile(modPath, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("writing module artifact: %w", err)
	}
	if err := os.WriteFile(testPath, []byte(tests), 0o644); err != nil {
		return nil, fmt.Errorf("writing test artifact: %w", err)
	}

	verdict := &engine.ValidationResult{}
	var raw strings.Builder

	// (a) Compile check — a hard failure stops everything: no test can
	// run against uncompilable code.
	compileDetail, err := p.compileCheck(ctx, dir, modPath)
	if err != nil {
		return nil, err
	}
	if compileDetail != "" {
		verdict.Compiled = false
		verdict.Details = append(verdict.Details, compileDetail)
		raw.WriteString(compileDetail)
		verdict.RawOutput = raw.String()
		return verdict, nil
	}
	verdict.Compiled = true

	// (b) Test execution.
	testReport, err := p.runTests(ctx, dir)
	if err != nil {
		return nil, err
	}
	verdict.TestsPassed = testReport.Passed
	verdict.TestsTotal = testReport.Total
	if testReport.Detail != "" {
		verdict.Details = append(verdict.Details, testReport.Detail)
	}
	raw.WriteString(testReport.Raw)

	// (c) Quality gates — run even after test failures so the feedback
	// is complete in one pass.
	flags, details := p.qualityGates(doc, code, tests)
	verdict.QualityFlags = flags
	verdict.Details = append(verdict.Details, details...)

	verdict.RawOutput = raw.String()
	return verdict, nil
}

// compileCheck runs py_compile over the module. Returns a non-empty
// detail string (with the toolchain's line/position context) on
// failure, empty on success.
func (p *Pipeline) compileCheck(ctx context.Context, dir, modPath string) (string, error) {
	out, err := runCommand(ctx, dir, p.cfg.PythonBin, "-m", "py_compile", modPath)
	if err != nil {
		return "", err
	}
	if out.ExitCode == 0 {
		return "", nil
	}
	msg := strings.TrimSpace(out.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(out.Stdout)
	}
	if msg == "" {
		msg = "unknown compile error"
	}
	return "py_compile failed: " + msg, nil
}
