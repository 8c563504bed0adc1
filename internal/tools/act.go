package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/internal/engine"
	"github.com/mark3labs/mcp-go/mcp"
)

// ActTool handles the codegen_act MCP tool. It is the workhorse of
// drive mode — one call submits exactly one decision to the engine.
type ActTool struct {
	sessions *Sessions
}

// NewActTool creates an ActTool with the given session registry.
func NewActTool(sessions *Sessions) *ActTool {
	return &ActTool{sessions: sessions}
}

// Definition returns the MCP tool definition for registration.
func (t *ActTool) Definition() mcp.Tool {
	return mcp.NewTool("codegen_act",
		mcp.WithDescription(
			"Submit one action to a running code generation engine. "+
				"The tool must be legal in the current phase (the snapshot lists the menu). "+
				"For code-gen, doc-enrich, and test-gen pass the artifact you authored as "+
				"'content'. validate and export take no content. The engine applies the "+
				"effect, advances or retries, and returns the next snapshot.",
		),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("The run ID returned by codegen_begin."),
		),
		mcp.WithString("tool_name",
			mcp.Required(),
			mcp.Description("One of: code-gen, doc-enrich, test-gen, validate, export."),
		),
		mcp.WithString("content",
			mcp.Description("The artifact source for code-gen, doc-enrich, or test-gen. "+
				"Must be actual code, not placeholders."),
		),
	)
}

// Handle processes the codegen_act tool call.
func (t *ActTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := req.GetString("run_id", "")
	toolName := req.GetString("tool_name", "")
	content := req.GetString("content", "")

	run, ok := t.sessions.Get(runID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no live run with ID %q — start one with codegen_begin", runID)), nil
	}
	if run.Terminal() {
		return mcp.NewToolResultError(fmt.Sprintf("run %s already finished in phase %s", runID, run.Phase())), nil
	}
	if strings.TrimSpace(toolName) == "" {
		return mcp.NewToolResultError("'tool_name' is required — the snapshot lists the legal tool for this phase"), nil
	}

	args := map[string]any{}
	if strings.TrimSpace(content) != "" {
		args["content"] = content
	}
	decision := engine.Decision{
		Action: &engine.Action{Tool: engine.ToolName(toolName), Args: args},
	}

	turnErr, err := run.Submit(ctx, decision)
	if err != nil {
		// Engine invariant violation — the run is Failed; report it.
		t.sessions.Remove(runID)
		return mcp.NewToolResultError(fmt.Sprintf("engine fault: %v", err)), nil
	}

	snap := run.Snapshot()

	if run.Terminal() {
		t.sessions.Remove(runID)
		result := run.Result()
		if result.OK {
			return mcp.NewToolResultText(fmt.Sprintf(
				"# Run Complete\n\n%s\n**Exported files:**\n- %s\n",
				formatSnapshot(runID, snap), strings.Join(result.Files, "\n- "),
			)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf(
			"# Run Failed\n\n%s\n**Reason:** %s\n",
			formatSnapshot(runID, snap), result.FailureReason,
		)), nil
	}

	header := "# Turn Applied"
	if turnErr != nil {
		header = fmt.Sprintf("# Turn Rejected (%s)", turnErr.Category)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s\n\n%s", header, formatSnapshot(runID, snap))), nil
}
