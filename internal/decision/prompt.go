package decision

import (
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/internal/engine"
)

// agentRules is the fixed preamble of every decision prompt.
const agentRules = `You are an agentic code generation assistant.

NON-NEGOTIABLE OUTPUT RULES:
1) You MUST output exactly one fenced block of type ` + "```action```" + ` containing valid JSON.
2) The JSON object MUST contain:
   - "tool_name": string
   - "args": object (can be empty)
   or, to stop the run, a "signal" of "abort" with a "reason".
3) Do NOT include additional code blocks besides the single ` + "```action```" + ` block.

QUALITY & SAFETY:
- Prefer Python standard library only if the spec says stdlib_only.
- Produce deterministic, testable code.
- If prior checks failed, prioritize fixing those failures.
`

// maxFeedbackLines keeps the feedback section short and high signal.
const maxFeedbackLines = 10

// BuildPrompt renders the full decision prompt: the fixed rules plus
// the complete memory snapshot plus the phase task. The prompt IS the
// state — nothing from earlier turns survives outside the snapshot.
func BuildPrompt(snap *engine.Snapshot) string {
	var b strings.Builder
	b.WriteString(agentRules)
	b.WriteString("\n---\n\n")
	fmt.Fprintf(&b, "PHASE: %s\n", snap.Phase)
	fmt.Fprintf(&b, "TURN: %d\n", snap.Turn)
	fmt.Fprintf(&b, "PHASE_RETRIES: %d\n", snap.Retries[snap.Phase])
	fmt.Fprintf(&b, "\nSPEC:\n%s\n", snap.Spec.Render())

	if strings.TrimSpace(snap.Code) != "" {
		fmt.Fprintf(&b, "\nCURRENT_CODE:\n%s\n", snap.Code)
	}
	if strings.TrimSpace(snap.Tests) != "" {
		fmt.Fprintf(&b, "\nCURRENT_TESTS:\n%s\n", snap.Tests)
	}
	if snap.LastValidation != nil {
		fmt.Fprintf(&b, "\nLAST_VALIDATION: %s\n", snap.LastValidation.Summary())
	}
	if len(snap.Feedback) > 0 {
		b.WriteString("\nLAST_CHECKS:\n")
		lines := snap.Feedback
		if len(lines) > maxFeedbackLines {
			lines = lines[:maxFeedbackLines]
		}
		for _, line := range lines {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	b.WriteString("\n---\n\n")
	b.WriteString(phaseTask(snap.Phase))
	return b.String()
}

// phaseTask names the single tool legal in the phase. The closed menu
// is stated explicitly so a compliant model has exactly one valid move.
func phaseTask(p engine.Phase) string {
	task := map[engine.Phase]string{
		engine.PhaseImplement:     "generate the module code",
		engine.PhaseDocument:      "add docstrings",
		engine.PhaseGenerateTests: "generate unittest tests",
		engine.PhaseValidate:      "run the validation checks",
		engine.PhaseExport:        "save the final files",
	}[p]

	tools := engine.LegalTools(p)
	if task == "" || len(tools) == 0 {
		return "Task: the run is finished; no action is legal.\n"
	}
	return fmt.Sprintf("Task: Choose the next tool to %s.\n\nReturn an action:\n- tool_name: %q\n- args: {}\n", task, tools[0])
}
