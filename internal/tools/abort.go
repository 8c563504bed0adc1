package tools

import (
	"context"
	"fmt"

	"github.com/forgeworks/anvil/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// AbortTool handles the codegen_abort MCP tool: the explicit abort
// signal, transitioning a live run to its failed terminal state.
type AbortTool struct {
	sessions *Sessions
}

// NewAbortTool creates an AbortTool with the given session registry.
func NewAbortTool(sessions *Sessions) *AbortTool {
	return &AbortTool{sessions: sessions}
}

// Definition returns the MCP tool definition for registration.
func (t *AbortTool) Definition() mcp.Tool {
	return mcp.NewTool("codegen_abort",
		mcp.WithDescription(
			"Abort a live code generation run. The run transitions to its failed "+
				"terminal state with your reason recorded; no further actions are accepted.",
		),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("The run ID to abort."),
		),
		mcp.WithString("reason",
			mcp.Description("Why the run is being abandoned."),
		),
	)
}

// Handle processes the codegen_abort tool call.
func (t *AbortTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := req.GetString("run_id", "")
	reason := req.GetString("reason", "")

	run, ok := t.sessions.Get(runID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no live run with ID %q", runID)), nil
	}

	if _, err := run.Submit(ctx, engine.Decision{Abort: true, Reason: reason}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("aborting run: %v", err)), nil
	}
	t.sessions.Remove(runID)

	return mcp.NewToolResultText(fmt.Sprintf(
		"# Run Aborted\n\n**Run:** `%s`\n**Reason:** %s\n", runID, reasonOrDefault(reason),
	)), nil
}

func reasonOrDefault(reason string) string {
	if reason == "" {
		return "no reason given"
	}
	return reason
}
