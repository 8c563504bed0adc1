package toolbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forgeworks/anvil/internal/engine"
)

// exportTool writes the final artifacts into the output directory:
// <module>.py, test_<module>.py, and <module>.md when a standalone doc
// exists. Files are created exclusively — a collision with an existing
// file is a fatal export error, never a silent overwrite.
type exportTool struct {
	outDir string
}

func (t *exportTool) Invoke(_ context.Context, snap *engine.Snapshot, _ map[string]any) (*engine.Effect, error) {
	module := snap.Spec.ModuleName()

	if err := os.MkdirAll(t.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory %s: %w", t.outDir, err)
	}

	files := []struct {
		path    string
		content string
	}{
		{filepath.Join(t.outDir, module+".py"), snap.Code},
		{filepath.Join(t.outDir, "test_"+module+".py"), snap.Tests},
	}
	if snap.Doc != "" {
		files = append(files, struct {
			path    string
			content string
		}{filepath.Join(t.outDir, module+".md"), snap.Doc + "\n"})
	}

	var written []string
	for _, f := range files {
		if err := writeExclusive(f.path, f.content); err != nil {
			// Partially written files stay on disk; the paths already
			// written are reported in the error for cleanup.
			return nil, fmt.Errorf("exporting %s (already wrote: %v): %w", f.path, written, err)
		}
		written = append(written, f.path)
	}

	return &engine.Effect{Exported: written, Summary: fmt.Sprintf("exported %d files to %s", len(written), t.outDir)}, nil
}

func writeExclusive(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
