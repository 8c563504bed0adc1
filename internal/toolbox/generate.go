package toolbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/forgeworks/anvil/internal/config"
	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/llm"
)

// --- LLM-backed artifact tools ---
//
// Each generator builds a prompt from the snapshot (specification,
// current artifacts, verbatim feedback), calls the client once, and
// strips markdown fences from the reply. No retry logic here — retries
// are an engine concern.

var fencePattern = regexp.MustCompile("(?is)```(?:python)?\\s*([\\s\\S]*?)\\s*```")

// stripFences unwraps a fenced code block if the model added one
// despite instructions; otherwise returns the trimmed text as-is.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(t); m != nil {
		return strings.TrimSpace(m[1])
	}
	return t
}

// codeGenTool produces the full module content for the Implement phase.
type codeGenTool struct {
	client llm.Client
}

func (t *codeGenTool) Invoke(ctx context.Context, snap *engine.Snapshot, args map[string]any) (*engine.Effect, error) {
	if content, ok := contentArg(args); ok {
		return &engine.Effect{Code: stripFences(content), Summary: "code supplied by caller"}, nil
	}
	if t.client == nil {
		return nil, fmt.Errorf("code-gen requires either a content argument or a generation backend")
	}

	var b strings.Builder
	b.WriteString("You are generating Python module code.\n\n")
	fmt.Fprintf(&b, "SPEC:\n%s\n\n", snap.Spec.Render())
	fmt.Fprintf(&b, "CURRENT_CODE (may be empty):\n%s\n\n", snap.Code)
	fmt.Fprintf(&b, "FAILED_CHECKS (if any):\n%s\n\n", strings.Join(snap.Feedback, "\n"))
	b.WriteString("Requirements:\n")
	b.WriteString("- Output ONLY the Python module content. No markdown. No explanations.\n")
	b.WriteString("- Implement exactly one primary function as described in the spec target.\n")
	b.WriteString("- Keep code deterministic and testable.\n")
	if snap.Spec.StdlibOnly {
		b.WriteString("- Use only the Python standard library.\n")
	}
	b.WriteString("- If FAILED_CHECKS mention errors, fix them.\n\n")
	b.WriteString("Now output the full updated module content:\n")

	out, err := t.client.Generate(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return &engine.Effect{Code: stripFences(out), Summary: "module generated"}, nil
}

// docEnrichTool rewrites the module with a docstring on the target
// function and derives the standalone doc artifact from it.
type docEnrichTool struct {
	client llm.Client
}

func (t *docEnrichTool) Invoke(ctx context.Context, snap *engine.Snapshot, args map[string]any) (*engine.Effect, error) {
	if content, ok := contentArg(args); ok {
		code := stripFences(content)
		return &engine.Effect{Code: code, Doc: extractDocstring(code), Summary: "documentation supplied by caller"}, nil
	}
	if t.client == nil {
		return nil, fmt.Errorf("doc-enrich requires either a content argument or a generation backend")
	}

	style := snap.Spec.Quality.DocstringStyle
	if style == "" {
		style = "google"
	}

	var b strings.Builder
	b.WriteString("You are adding a docstring to an existing Python function.\n\n")
	fmt.Fprintf(&b, "DOCSTRING_STYLE: %s\n\n", style)
	fmt.Fprintf(&b, "SPEC:\n%s\n\n", snap.Spec.Render())
	fmt.Fprintf(&b, "CURRENT_CODE:\n%s\n\n", snap.Code)
	b.WriteString("Requirements:\n")
	b.WriteString("- Output ONLY the full updated Python module content. No markdown. No explanations.\n")
	b.WriteString("- Add or improve a docstring for the main function.\n")

	out, err := t.client.Generate(ctx, b.String())
	if err != nil {
		return nil, err
	}
	code := stripFences(out)
	return &engine.Effect{Code: code, Doc: extractDocstring(code), Summary: "docstring added"}, nil
}

// testGenTool produces the unittest file for the GenerateTests phase.
type testGenTool struct {
	client llm.Client
	cfg    config.Config
}

func (t *testGenTool) Invoke(ctx context.Context, snap *engine.Snapshot, args map[string]any) (*engine.Effect, error) {
	if content, ok := contentArg(args); ok {
		return &engine.Effect{Tests: stripFences(content), Summary: "tests supplied by caller"}, nil
	}
	if t.client == nil {
		return nil, fmt.Errorf("test-gen requires either a content argument or a generation backend")
	}

	minTests := snap.Spec.Quality.MinTests
	if minTests <= 0 {
		minTests = t.cfg.MinTests
	}

	var b strings.Builder
	b.WriteString("You are generating unittest tests for a Python function.\n\n")
	fmt.Fprintf(&b, "MODULE_NAME: %s\n", snap.Spec.ModuleName())
	fmt.Fprintf(&b, "FUNCTION_NAME: %s\n", snap.Spec.TargetName())
	fmt.Fprintf(&b, "MIN_TESTS: %d\n\n", minTests)
	fmt.Fprintf(&b, "SPEC:\n%s\n\n", snap.Spec.Render())
	fmt.Fprintf(&b, "CURRENT_CODE:\n%s\n\n", snap.Code)
	if len(snap.Feedback) > 0 {
		fmt.Fprintf(&b, "FAILED_CHECKS:\n%s\n\n", strings.Join(snap.Feedback, "\n"))
	}
	b.WriteString("Requirements:\n")
	b.WriteString("- Output ONLY the test file content. No markdown. No explanations.\n")
	b.WriteString("- Use Python unittest.\n")
	fmt.Fprintf(&b, "- Import as: from %s import %s\n", snap.Spec.ModuleName(), snap.Spec.TargetName())
	fmt.Fprintf(&b, "- Write at least %d test methods, including one exercising an edge case\n", minTests)
	b.WriteString("  (empty, invalid, or boundary input) with a matching test name.\n")

	out, err := t.client.Generate(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return &engine.Effect{Tests: stripFences(out), Summary: "tests generated"}, nil
}

var docstringPattern = regexp.MustCompile(`(?s)"""(.*?)"""|'''(.*?)'''`)

// extractDocstring pulls the first triple-quoted string out of the
// module; it becomes the standalone doc artifact on the snapshot.
func extractDocstring(code string) string {
	m := docstringPattern.FindStringSubmatch(code)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(m[2])
}
