// Package server wires all MCP components and creates the server instance.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the tools/prompts/resources that depend on
// abstractions. No business logic lives here — only wiring.
package server

import (
	"log"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/history"
	"github.com/forgeworks/anvil/internal/prompts"
	"github.com/forgeworks/anvil/internal/resources"
	"github.com/forgeworks/anvil/internal/tools"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with all tools, prompts,
// and resources registered. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the history store's database
// connection and must be called on shutdown (typically via defer). It
// is always non-nil and safe to call even if history init failed.
func New(cfg config.Config) (*server.MCPServer, func(), error) {
	s := server.NewMCPServer(
		"anvil",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// History is an independent subsystem: an empty path disables it,
	// and if it fails to initialize the engine tools keep working
	// without persistence.
	cleanup := noop
	var rec engine.Recorder
	var store *history.Store
	if cfg.HistoryPath != "" {
		if hs, err := history.Open(cfg.HistoryPath); err != nil {
			log.Printf("WARNING: run history disabled: %v", err)
		} else {
			store = hs
			rec = hs
			cleanup = func() {
				if err := hs.Close(); err != nil {
					log.Printf("WARNING: history store close: %v", err)
				}
			}
		}
	}

	// --- Register engine tools ---

	sessions := tools.NewSessions()

	beginTool := tools.NewBeginTool(sessions, cfg, rec)
	s.AddTool(beginTool.Definition(), beginTool.Handle)

	actTool := tools.NewActTool(sessions)
	s.AddTool(actTool.Definition(), actTool.Handle)

	statusTool := tools.NewStatusTool(sessions, store)
	s.AddTool(statusTool.Definition(), statusTool.Handle)

	abortTool := tools.NewAbortTool(sessions)
	s.AddTool(abortTool.Definition(), abortTool.Handle)

	// --- Register prompts ---

	drivePrompt := prompts.NewDrivePrompt()
	s.AddPrompt(drivePrompt.Definition(), drivePrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(store)
	s.AddResource(resourceHandler.RunsResource(), resourceHandler.HandleRuns)

	return s, cleanup, nil
}

// noop is a no-op cleanup function used as the default when history is
// disabled or hasn't been initialized.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to drive the code generation engine.
func serverInstructions() string {
	return `You have access to Anvil, a phase-driven code generation engine.

## What Anvil Does

Anvil turns a specification into a validated, exported Python module
through a fixed pipeline: implement → document → generate-tests →
validate → export. YOU author every artifact; the engine enforces the
process — phase order, a closed tool menu per phase, entry and exit
conditions, validation gates, and retry budgets. The engine never
trusts free-form text: every claim about code quality comes from its
own check pipeline (compile check, unittest run, quality heuristics).

## How to Drive a Run

1. Call codegen_begin with either a structured spec (JSON/YAML naming a
   target function and its behavior) or prompt + name.
2. Read the returned snapshot. It shows the current phase, the legal
   tool, retry counters, and any failed checks from the previous turn.
3. Submit EXACTLY ONE action per turn with codegen_act:
   - code-gen: pass the full Python module you authored as 'content'
   - doc-enrich: pass the full module rewritten with a docstring
   - test-gen: pass a complete unittest file as 'content'
   - validate: no content — the engine runs its own checks
   - export: no content — the engine writes the files
4. Repeat until the run reports Done or Failed.

## Rules the Engine Enforces (do not fight them)

- Only the listed legal tool is accepted in each phase. Anything else
  is rejected and counts against the phase's retry budget.
- You cannot skip validation and you cannot export with failing checks.
- A bare "done" signal is rejected — runs complete only via export.
- Validation failures route you backwards automatically: compile errors
  re-enter implement, test failures re-enter generate-tests, quality
  violations re-enter the phase that owns them. The snapshot's failed
  checks tell you exactly what to fix — fix those and nothing else.
- Each phase has a retry budget. Repeated failures fail the run, so
  make every submission count.

## Authoring Guidance

- Write deterministic, testable code; one primary function per module.
- Respect stdlib_only when the spec sets it — imports outside the
  allowlist fail validation.
- Tests must use unittest, import via "from <module> import <target>",
  meet the minimum test count, and include an edge-case test (name it
  for the edge it covers: empty, invalid, boundary, ...).
- Never submit placeholder content. The engine checks artifact shape
  (a module must define a function, tests must define test methods)
  and rejects implausible submissions.

## Inspecting Runs

- codegen_status lists live runs and recent history; with run_id it
  shows a full snapshot or the persisted turn log.
- codegen_abort abandons a run you cannot complete — give a reason.
- The codegen://runs/recent resource exposes history as JSON.`
}
