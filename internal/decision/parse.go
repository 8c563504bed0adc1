// Package decision implements the Decision Interface over a text
// model: it renders the snapshot into a prompt, requires the reply to
// carry exactly one fenced action block, and parses that block into a
// structured decision. Free-form prose around the block is ignored —
// the engine never interprets model text.
package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/forgeworks/anvil/internal/engine"
)

// actionFence matches the first ```action fenced block in a reply.
var actionFence = regexp.MustCompile("(?is)```action\\s*([\\s\\S]*?)\\s*```")

// rawAction is the wire shape inside the action block: either a tool
// selection or a terminal signal.
type rawAction struct {
	Tool   string         `json:"tool_name"`
	Args   map[string]any `json:"args"`
	Signal string         `json:"signal"`
	Reason string         `json:"reason"`
}

// Parse extracts and validates the action block from a model reply.
// Every malformed shape is an error with a message precise enough to
// feed back verbatim — the engine retries with it, never substitutes a
// default action.
func Parse(text string) (engine.Decision, error) {
	if strings.TrimSpace(text) == "" {
		return engine.Decision{}, fmt.Errorf("empty model response; expected an ```action``` block")
	}

	m := actionFence.FindStringSubmatch(text)
	if m == nil {
		return engine.Decision{}, fmt.Errorf("no ```action``` block found in model response")
	}
	body := strings.TrimSpace(m[1])
	if body == "" {
		return engine.Decision{}, fmt.Errorf("found ```action``` block but it was empty")
	}

	var raw rawAction
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&raw); err != nil {
		return engine.Decision{}, fmt.Errorf("invalid JSON inside action block: %v", err)
	}

	switch raw.Signal {
	case "done":
		return engine.Decision{Done: true, Reason: raw.Reason}, nil
	case "abort":
		return engine.Decision{Abort: true, Reason: raw.Reason}, nil
	case "":
	default:
		return engine.Decision{}, fmt.Errorf("unknown signal %q: must be done or abort", raw.Signal)
	}

	tool := strings.TrimSpace(raw.Tool)
	if tool == "" {
		return engine.Decision{}, fmt.Errorf("action JSON missing 'tool_name'")
	}
	args := raw.Args
	if args == nil {
		args = map[string]any{}
	}
	return engine.Decision{Action: &engine.Action{Tool: engine.ToolName(tool), Args: args}}, nil
}
