package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/spec"
	"github.com/forgeworks/anvil/internal/toolbox"
	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"
)

// BeginTool handles the codegen_begin MCP tool: it accepts a
// specification, starts an engine run, and hands the first snapshot
// back to the driving model.
type BeginTool struct {
	sessions *Sessions
	cfg      config.Config
	rec      engine.Recorder
}

// NewBeginTool creates a BeginTool with its dependencies.
func NewBeginTool(sessions *Sessions, cfg config.Config, rec engine.Recorder) *BeginTool {
	return &BeginTool{sessions: sessions, cfg: cfg, rec: rec}
}

// Definition returns the MCP tool definition for registration.
func (t *BeginTool) Definition() mcp.Tool {
	return mcp.NewTool("codegen_begin",
		mcp.WithDescription(
			"Start a phase-driven code generation run. Provide either a structured "+
				"specification (JSON or YAML) or a prompt plus a target function name. "+
				"The run walks implement → document → generate-tests → validate → export; "+
				"each turn YOU author the artifact and submit it with codegen_act. "+
				"The engine enforces phase order, validation gates, and retry budgets.",
		),
		mcp.WithString("spec",
			mcp.Description("Structured specification document as JSON or YAML. "+
				"Must name a target function and describe its behavior."),
		),
		mcp.WithString("prompt",
			mcp.Description("Free-form behavior description, used with 'name' when no structured spec is given."),
		),
		mcp.WithString("name",
			mcp.Description("Target function name, required with 'prompt'."),
		),
		mcp.WithBoolean("stdlib_only",
			mcp.Description("Restrict the generated module to the Python standard library "+
				"in prompt mode (default: true). Structured specs carry their own flag."),
		),
		mcp.WithString("out_dir",
			mcp.Description("Output directory for exported files. Defaults to the configured output directory."),
		),
	)
}

// Handle processes the codegen_begin tool call.
func (t *BeginTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, err := t.parseSpec(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cfg := t.cfg
	if out := req.GetString("out_dir", ""); out != "" {
		cfg.OutDir = out
	}

	// Drive mode carries artifacts in codegen_act arguments, so the
	// toolbox needs no generation backend of its own.
	tb := toolbox.New(cfg, nil)
	run, err := engine.NewRun(doc, cfg, tb, t.rec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("starting run: %v", err)), nil
	}
	t.sessions.Add(run)

	snap := run.Snapshot()
	response := fmt.Sprintf(
		"# Run Started\n\n%s\n"+
			"**Target:** `%s` (module `%s`)\n\n"+
			"Each turn: read the snapshot, then call `codegen_act` with exactly one tool. "+
			"Only the listed legal tool is accepted; the engine validates every submission "+
			"and feeds failed checks back to you verbatim.",
		formatSnapshot(run.ID, snap), doc.TargetName(), doc.ModuleName(),
	)
	return mcp.NewToolResultText(response), nil
}

// parseSpec builds the specification document from the request: a
// structured spec wins over the prompt form.
func (t *BeginTool) parseSpec(req mcp.CallToolRequest) (*spec.Document, error) {
	raw := strings.TrimSpace(req.GetString("spec", ""))
	if raw != "" {
		var doc spec.Document
		// yaml.v3 also accepts JSON, so one decoder covers both forms.
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("parsing spec: %v", err)
		}
		if doc.Language == "" {
			doc.Language = "python"
		}
		if err := doc.Validate(); err != nil {
			return nil, err
		}
		return &doc, nil
	}

	prompt := strings.TrimSpace(req.GetString("prompt", ""))
	name := strings.TrimSpace(req.GetString("name", ""))
	if prompt == "" || name == "" {
		return nil, fmt.Errorf("provide either 'spec' or both 'prompt' and 'name'")
	}
	doc := spec.FromPrompt(prompt, name, boolArg(req, "stdlib_only", true))
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
