package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/internal/history"
	"github.com/mark3labs/mcp-go/mcp"
)

// StatusTool handles the codegen_status MCP tool: live-run snapshots
// plus persisted run history.
type StatusTool struct {
	sessions *Sessions
	store    *history.Store
}

// NewStatusTool creates a StatusTool. The history store may be nil;
// then only live runs are reported.
func NewStatusTool(sessions *Sessions, store *history.Store) *StatusTool {
	return &StatusTool{sessions: sessions, store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *StatusTool) Definition() mcp.Tool {
	return mcp.NewTool("codegen_status",
		mcp.WithDescription(
			"Inspect code generation runs. With a run_id, returns the current "+
				"snapshot of a live run or the persisted record and turn log of a "+
				"finished one. Without arguments, lists live runs and recent history.",
		),
		mcp.WithString("run_id",
			mcp.Description("Optional run ID to inspect."),
		),
	)
}

// Handle processes the codegen_status tool call.
func (t *StatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := req.GetString("run_id", "")

	if runID != "" {
		return t.describeRun(runID)
	}

	var b strings.Builder
	b.WriteString("# Code Generation Runs\n\n")

	live := t.sessions.IDs()
	if len(live) > 0 {
		b.WriteString("## Live\n\n")
		for _, id := range live {
			if run, ok := t.sessions.Get(id); ok {
				fmt.Fprintf(&b, "- `%s` — phase %s, turn %d\n", id, run.Phase(), run.Snapshot().Turn)
			}
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No live runs.\n\n")
	}

	if t.store != nil {
		records, err := t.store.RecentRuns(10)
		if err != nil {
			return nil, fmt.Errorf("reading run history: %w", err)
		}
		if len(records) > 0 {
			b.WriteString("## Recent History\n\n")
			for _, r := range records {
				fmt.Fprintf(&b, "- `%s` — %s (%s) target `%s`, started %s\n",
					r.ID, r.Status, r.Phase, r.Target, r.StartedAt)
			}
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *StatusTool) describeRun(runID string) (*mcp.CallToolResult, error) {
	if run, ok := t.sessions.Get(runID); ok {
		return mcp.NewToolResultText("# Live Run\n\n" + formatSnapshot(runID, run.Snapshot())), nil
	}
	if t.store == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no live run with ID %q and no history store configured", runID)), nil
	}

	record, err := t.store.GetRun(runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found", runID)), nil
	}
	turns, err := t.store.Turns(runID)
	if err != nil {
		return nil, fmt.Errorf("reading turn log: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", record.ID)
	fmt.Fprintf(&b, "**Target:** `%s`\n**Status:** %s\n**Final phase:** %s\n**Started:** %s\n",
		record.Target, record.Status, record.Phase, record.StartedAt)
	if record.FinishedAt != nil {
		fmt.Fprintf(&b, "**Finished:** %s\n", *record.FinishedAt)
	}
	if record.Detail != "" {
		fmt.Fprintf(&b, "**Detail:** %s\n", record.Detail)
	}
	if len(turns) > 0 {
		b.WriteString("\n## Turns\n\n")
		for _, turn := range turns {
			fmt.Fprintf(&b, "%d. [%s] %s → %s", turn.Turn, turn.Phase, turn.Tool, turn.Outcome)
			if turn.Detail != "" {
				fmt.Fprintf(&b, " — %s", firstLine(turn.Detail))
			}
			b.WriteString("\n")
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
