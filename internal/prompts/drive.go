// Package prompts implements the MCP prompt handlers for drive mode.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// DrivePrompt handles the codegen-drive MCP prompt. It guides the AI
// through driving a full generation run from spec to exported files.
type DrivePrompt struct{}

// NewDrivePrompt creates a DrivePrompt.
func NewDrivePrompt() *DrivePrompt {
	return &DrivePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *DrivePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("codegen-drive",
		mcp.WithPromptDescription(
			"Drive a phase-driven code generation run: implement, document, "+
				"test, validate, and export a Python module against a specification.",
		),
		mcp.WithArgument("target",
			mcp.ArgumentDescription("Name of the function to generate"),
		),
		mcp.WithArgument("behavior",
			mcp.ArgumentDescription("What the function should do"),
		),
	)
}

// Handle processes the codegen-drive prompt request.
func (p *DrivePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	target := "my_function"
	behavior := "ask me what it should do"
	if args := req.Params.Arguments; args != nil {
		if v, ok := args["target"]; ok && v != "" {
			target = v
		}
		if v, ok := args["behavior"]; ok && v != "" {
			behavior = v
		}
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Drive code generation for: %s", target),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to generate a tested Python function '%s' (%s).\n\n"+
						"Please:\n"+
						"1. Call `codegen_begin` with prompt and name to start the run\n"+
						"2. Each turn, read the snapshot and submit exactly one action with `codegen_act`:\n"+
						"   - implement: author the module and pass it as content with tool_name=\"code-gen\"\n"+
						"   - document: add a docstring and pass the updated module with tool_name=\"doc-enrich\"\n"+
						"   - generate-tests: author a unittest file and pass it with tool_name=\"test-gen\"\n"+
						"   - validate: call tool_name=\"validate\" (no content)\n"+
						"   - export: call tool_name=\"export\" (no content)\n"+
						"3. If validation fails, the snapshot shows the failed checks — fix exactly those\n"+
						"4. Stop when the run reports Done or Failed; summarize the outcome for me",
					target, behavior,
				)),
			},
		},
	}, nil
}
