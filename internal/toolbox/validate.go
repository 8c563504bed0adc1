package toolbox

import (
	"context"
	"fmt"
	"time"

	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/spec"
)

// verdictRunner is the pipeline surface the validate tool needs; tests
// substitute a scripted implementation.
type verdictRunner interface {
	Run(ctx context.Context, doc *spec.Document, code, tests string) (*engine.ValidationResult, error)
}

// validateTool runs the full check pipeline against the snapshot's
// artifacts under the configured wall-clock budget.
type validateTool struct {
	pipeline verdictRunner
	timeout  time.Duration
}

func (t *validateTool) Invoke(ctx context.Context, snap *engine.Snapshot, _ map[string]any) (*engine.Effect, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	verdict, err := t.pipeline.Run(ctx, snap.Spec, snap.Code, snap.Tests)
	if err != nil {
		return nil, fmt.Errorf("validation pipeline: %w", err)
	}
	return &engine.Effect{Verdict: verdict, Summary: verdict.Summary()}, nil
}
