package engine

import (
	"context"
	"errors"
)

// Loop drives a run to completion against a Decider: reconstruct
// snapshot → query the Decision Interface → submit → repeat. Control
// flow is strictly linear per turn — the decider never acts twice
// without a fresh snapshot, and no tool runs without an explicit
// decision.
type Loop struct {
	Run     *Run
	Decider Decider
}

// Go runs the loop until the run reaches a terminal phase. The
// cooperative stop signal (ctx) is checked between turns, never
// mid-tool-call; a stop transitions the run to Failed with the recorded
// reason. Decision timeouts count against the current phase's retry
// budget like any other decision error.
func (l *Loop) Go(ctx context.Context) (*Result, error) {
	for !l.Run.Terminal() {
		if err := ctx.Err(); err != nil {
			l.Run.Interrupt(err.Error())
			break
		}

		snap := l.Run.Snapshot()

		dctx := ctx
		var cancel context.CancelFunc
		if timeout := l.Run.cfg.DecisionTimeout; timeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, timeout)
		}
		decision, err := l.Decider.Decide(dctx, snap)
		if cancel != nil {
			cancel()
		}

		if err != nil {
			// The parent context expiring is the stop signal, not a
			// decision error — handled at the top of the next turn.
			if ctx.Err() != nil {
				continue
			}
			cat := CategoryDecision
			if errors.Is(err, context.DeadlineExceeded) {
				cat = CategoryTimeout
			}
			l.Run.Reject(cat, err.Error())
			continue
		}

		if _, err := l.Run.Submit(ctx, decision); err != nil {
			// Engine invariant violation: the run is already Failed;
			// surface the bug to the caller.
			return l.Run.Result(), err
		}
	}
	return l.Run.Result(), nil
}
