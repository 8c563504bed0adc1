package decision

import (
	"context"
	"fmt"

	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/llm"
)

// Decider adapts a text model to the engine's Decision Interface: one
// prompt in, one structured decision out. It holds no state between
// turns; the snapshot carries everything.
type Decider struct {
	client llm.Client
}

// NewDecider wraps a generation client.
func NewDecider(client llm.Client) *Decider {
	return &Decider{client: client}
}

// Decide renders the snapshot, queries the model once, and parses the
// reply. A parse failure surfaces as an error — the engine counts it
// against the phase's retry budget and feeds the message back.
func (d *Decider) Decide(ctx context.Context, snap *engine.Snapshot) (engine.Decision, error) {
	reply, err := d.client.Generate(ctx, BuildPrompt(snap))
	if err != nil {
		return engine.Decision{}, fmt.Errorf("querying decision model: %w", err)
	}
	decision, err := Parse(reply)
	if err != nil {
		return engine.Decision{}, fmt.Errorf("ActionParseError: %v", err)
	}
	return decision, nil
}
