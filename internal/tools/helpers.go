// Package tools implements the MCP tool handlers for drive mode.
//
// In drive mode the connected model IS the decision interface: it
// starts a run with codegen_begin, then submits exactly one action per
// turn with codegen_act. The engine enforces the phase machine, the
// legal tool set, and the retry budgets on every submission — the model
// only ever chooses from the menu it is shown.
//
// Design principles:
// - SRP: each file = one tool
// - DIP: tools depend on the engine's interfaces, not on Gemini or sqlite
package tools

import (
	"fmt"
	"strings"
	"sync"

	"github.com/forgeworks/anvil/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// Sessions tracks the live runs of one server process. Runs are
// in-memory only; the history store keeps the durable record.
type Sessions struct {
	mu   sync.Mutex
	runs map[string]*engine.Run
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{runs: make(map[string]*engine.Run)}
}

// Add registers a run.
func (s *Sessions) Add(r *engine.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
}

// Get returns a run by ID.
func (s *Sessions) Get(id string) (*engine.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	return r, ok
}

// Remove drops a run from the registry.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
}

// IDs returns the registered run IDs.
func (s *Sessions) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	return ids
}

// boolArg reads an optional boolean tool argument with a default.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// formatSnapshot renders the state the driving model needs for its next
// decision: phase, budgets, feedback, and the legal tool menu.
func formatSnapshot(runID string, snap *engine.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Run:** `%s`\n", runID)
	fmt.Fprintf(&b, "**Phase:** %s\n", snap.Phase)
	fmt.Fprintf(&b, "**Turn:** %d\n", snap.Turn)

	if snap.Phase.Terminal() {
		return b.String()
	}

	legal := engine.LegalTools(snap.Phase)
	names := make([]string, len(legal))
	for i, t := range legal {
		names[i] = string(t)
	}
	fmt.Fprintf(&b, "**Legal tools:** %s\n", strings.Join(names, ", "))

	if n := snap.Retries[snap.Phase]; n > 0 {
		fmt.Fprintf(&b, "**Phase retries:** %d\n", n)
	}
	if snap.LastValidation != nil {
		fmt.Fprintf(&b, "**Last validation:** %s\n", snap.LastValidation.Summary())
	}
	if len(snap.Feedback) > 0 {
		b.WriteString("\n**Failed checks (fix these):**\n")
		for _, f := range snap.Feedback {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	b.WriteString("\n## Next Step\n\n")
	switch snap.Phase {
	case engine.PhaseImplement:
		b.WriteString("Author the full Python module yourself and call `codegen_act` with tool_name=\"code-gen\" and the module source as `content`.\n")
	case engine.PhaseDocument:
		b.WriteString("Rewrite the module with a docstring on the main function and call `codegen_act` with tool_name=\"doc-enrich\" and the full updated source as `content`.\n")
	case engine.PhaseGenerateTests:
		b.WriteString("Author a unittest file for the module and call `codegen_act` with tool_name=\"test-gen\" and the test source as `content`.\n")
	case engine.PhaseValidate:
		b.WriteString("Call `codegen_act` with tool_name=\"validate\" to run the check pipeline over the current artifacts.\n")
	case engine.PhaseExport:
		b.WriteString("Call `codegen_act` with tool_name=\"export\" to write the validated files to the output directory.\n")
	}
	return b.String()
}
