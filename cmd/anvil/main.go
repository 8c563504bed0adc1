// Anvil: a phase-driven code generation engine.
//
// Anvil turns a specification into a validated, exported Python module
// through a fixed pipeline (implement → document → generate-tests →
// validate → export). The engine owns all control flow; a language
// model only ever picks the next action from a closed per-phase menu.
//
// Usage:
//
//	anvil run --spec spec.yaml        # Drive a run with the configured model
//	anvil run --prompt "..." --name f # Same, from a bare prompt
//	anvil serve                       # Start the MCP server (stdio transport)
//	anvil update                      # Update to the latest version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/decision"
	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/history"
	"github.com/forgeworks/anvil/internal/llm"
	anvilserver "github.com/forgeworks/anvil/internal/server"
	"github.com/forgeworks/anvil/internal/spec"
	"github.com/forgeworks/anvil/internal/toolbox"
	"github.com/forgeworks/anvil/internal/updater"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		if err := runCommand(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "serve":
		if err := serveCommand(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "update":
		runUpdate()
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("anvil v%s\n", anvilserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runCommand drives one engine run end to end with the configured
// generation model as the decision interface.
func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	specPath := fs.String("spec", "", "path to a JSON or YAML specification document")
	prompt := fs.String("prompt", "", "behavior description (used with --name instead of --spec)")
	name := fs.String("name", "", "target function name for --prompt mode")
	noStdlibOnly := fs.Bool("no-stdlib-only", false, "allow non-stdlib imports in --prompt mode")
	outDir := fs.String("out", "", "output directory for exported files")
	maxTurns := fs.Int("max-turns", 0, "overall turn budget (0 = configured default)")
	maxRetries := fs.Int("max-phase-retries", 0, "per-phase retry budget (0 = configured default)")
	jsonOut := fs.Bool("json", false, "print the full result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.OutDir = *outDir
	}
	if *maxTurns > 0 {
		cfg.MaxTurns = *maxTurns
	}
	if *maxRetries > 0 {
		cfg.RetryLimit = *maxRetries
	}

	var doc *spec.Document
	switch {
	case *specPath != "":
		doc, err = spec.Load(*specPath)
		if err != nil {
			return err
		}
	case *prompt != "" && *name != "":
		doc = spec.FromPrompt(*prompt, *name, !*noStdlibOnly)
	default:
		return fmt.Errorf("provide either --spec or both --prompt and --name")
	}

	// Graceful shutdown: interrupts cancel the loop between turns.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := llm.NewGeminiClient(ctx, cfg.Model)
	if err != nil {
		return err
	}
	defer client.Close()

	var rec engine.Recorder
	if cfg.HistoryPath != "" {
		if store, err := history.Open(cfg.HistoryPath); err != nil {
			log.Printf("WARNING: run history disabled: %v", err)
		} else {
			rec = store
			defer store.Close()
		}
	}

	run, err := engine.NewRun(doc, cfg, toolbox.New(cfg, client), rec)
	if err != nil {
		return err
	}
	log.Printf("run %s: target %s, model %s", run.ID, doc.TargetName(), client.Name())

	loop := &engine.Loop{Run: run, Decider: decision.NewDecider(client)}
	result, err := loop.Go(ctx)
	if err != nil {
		return fmt.Errorf("engine fault: %w", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.OK {
		fmt.Printf("done in %d turns\n", result.Turns)
		for _, f := range result.Files {
			fmt.Printf("  %s\n", f)
		}
		return nil
	}
	return fmt.Errorf("run failed in phase %s after %d turns: %s", result.Phase, result.Turns, result.FailureReason)
}

// serveCommand starts the MCP server on stdio.
func serveCommand() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}

	s, cleanup, err := anvilserver.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Background version check — prints to stderr so it doesn't
	// interfere with MCP's stdio transport on stdout.
	go checkForUpdates()

	return server.ServeStdio(s)
}

// checkForUpdates runs a non-blocking version check and prints a notice
// to stderr if an update is available. Best-effort — network failures
// are silently ignored.
func checkForUpdates() {
	result := updater.CheckVersion(anvilserver.Version)
	if result.UpdateAvailable {
		fmt.Fprintf(os.Stderr,
			"\n  Update available: v%s → v%s\n"+
				"  Run: anvil update\n"+
				"  Release: %s\n\n",
			result.CurrentVersion, result.LatestVersion, result.ReleaseURL,
		)
	}
}

// runUpdate performs a self-update to the latest version.
func runUpdate() {
	fmt.Fprintf(os.Stderr, "Checking for updates...\n")

	result := updater.CheckVersion(anvilserver.Version)
	if !result.UpdateAvailable {
		fmt.Fprintf(os.Stderr, "Already at the latest version (v%s)\n", result.CurrentVersion)
		return
	}

	fmt.Fprintf(os.Stderr, "New version available: v%s → v%s\nDownloading...\n",
		result.CurrentVersion, result.LatestVersion)

	if err := updater.SelfUpdate(anvilserver.Version); err != nil {
		fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
		fmt.Fprintf(os.Stderr, "\n  You can download manually from:\n  %s\n", result.ReleaseURL)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Updated to v%s!\nRestart anvil to use the new version.\n", result.LatestVersion)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Anvil v%s — phase-driven code generation engine

Usage:
  anvil run --spec <file>              Drive a run from a spec document
  anvil run --prompt <text> --name <f> Drive a run from a bare prompt
  anvil serve                          Start the MCP server (stdio transport)
  anvil update                         Update to the latest version
  anvil version                        Print the version

Run flags:
  --spec               path to a JSON or YAML specification
  --prompt / --name    behavior description plus target function name
  --no-stdlib-only     allow non-stdlib imports in --prompt mode
  --out                output directory (default: generated)
  --max-turns          overall turn budget
  --max-phase-retries  per-phase retry budget
  --json               print the full result as JSON

MCP configuration:
  {
    "mcpServers": {
      "anvil": {
        "command": "anvil",
        "args": ["serve"]
      }
    }
  }
`, anvilserver.Version)
}
