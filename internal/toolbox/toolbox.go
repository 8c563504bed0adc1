// Package toolbox implements the closed tool registry the engine
// dispatches through: three LLM-backed artifact generators, the
// validation pipeline wrapper, and the filesystem exporter.
//
// Tools are the only components that produce side effects. Each tool
// receives a snapshot clone and returns an Effect; it never mutates run
// state and never decides what happens next.
package toolbox

import (
	"context"
	"fmt"

	"github.com/forgeworks/anvil/internal/checks"
	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/llm"
)

// tool is one registry entry.
type tool interface {
	Invoke(ctx context.Context, snap *engine.Snapshot, args map[string]any) (*engine.Effect, error)
}

// Registry is the closed tool set for one run configuration. It
// implements engine.Toolbox.
type Registry struct {
	cfg   config.Config
	tools map[engine.ToolName]tool
}

// New builds the full registry: code-gen, doc-enrich, and test-gen
// backed by the given client, validate backed by the checks pipeline,
// and export writing into cfg.OutDir.
func New(cfg config.Config, client llm.Client) *Registry {
	r := &Registry{cfg: cfg, tools: make(map[engine.ToolName]tool)}
	r.tools[engine.ToolCodeGen] = &codeGenTool{client: client}
	r.tools[engine.ToolDocEnrich] = &docEnrichTool{client: client}
	r.tools[engine.ToolTestGen] = &testGenTool{client: client, cfg: cfg}
	r.tools[engine.ToolValidate] = &validateTool{pipeline: checks.New(cfg), timeout: cfg.ValidationTimeout}
	r.tools[engine.ToolExport] = &exportTool{outDir: cfg.OutDir}
	return r
}

// Has reports whether the tool name is registered.
func (r *Registry) Has(name engine.ToolName) bool {
	_, ok := r.tools[name]
	return ok
}

// Invoke dispatches by name. Unknown names are an error here as well —
// the engine checks first, but the registry does not rely on it.
func (r *Registry) Invoke(ctx context.Context, name engine.ToolName, snap *engine.Snapshot, args map[string]any) (*engine.Effect, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", name)
	}
	return t.Invoke(ctx, snap, args)
}

// contentArg extracts an explicit artifact payload from the action
// arguments. In drive mode the connected model authors the artifact
// itself and passes it here; when absent, the tool generates one.
func contentArg(args map[string]any) (string, bool) {
	if args == nil {
		return "", false
	}
	v, ok := args["content"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
