package checks

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/forgeworks/anvil/internal/engine"
	"github.com/forgeworks/anvil/internal/spec"
)

// --- Quality gates ---
//
// Static heuristics over the artifact text. Each violated gate becomes
// one flag on the verdict; the flag's owning phase decides where the
// run re-enters.

var (
	importPattern  = regexp.MustCompile(`(?m)^\s*(?:from|import)\s+([a-zA-Z0-9_.]+)`)
	testDefPattern = regexp.MustCompile(`def\s+test_`)
)

// stdlibAllow is the default import allowlist for stdlib-only specs.
var stdlibAllow = map[string]bool{
	"typing": true, "types": true, "dataclasses": true, "enum": true,
	"re": true, "math": true, "json": true, "statistics": true, "random": true,
	"collections": true, "itertools": true, "functools": true, "operator": true,
	"datetime": true, "time": true,
	"pathlib": true, "os": true, "sys": true, "subprocess": true, "tempfile": true,
	"logging": true, "traceback": true,
	"unittest": true,
	"hashlib": true, "hmac": true, "secrets": true,
	"urllib": true, "http": true,
	"csv": true, "sqlite3": true,
	"decimal": true, "fractions": true,
}

// edgeCaseHints marks a test function as edge-case oriented when its
// name contains one of these fragments.
var edgeCaseHints = []string{
	"edge", "empty", "none", "null", "zero", "negative",
	"invalid", "boundary", "error", "raise", "overflow", "large",
}

// qualityGates evaluates the heuristic checks against the current code
// and test artifacts. Returns the violated flags in pipeline order and
// a matching human-readable detail line per flag.
func (p *Pipeline) qualityGates(doc *spec.Document, code, tests string) ([]engine.QualityFlag, []string) {
	var flags []engine.QualityFlag
	var details []string

	target := doc.TargetName()
	if !strings.Contains(code, "def "+target+"(") {
		flags = append(flags, engine.FlagMissingTarget)
		details = append(details, fmt.Sprintf("function definition not found: def %s(...)", target))
	}

	if doc.StdlibOnly {
		bad := p.disallowedImports(code+"\n"+tests, doc.ModuleName())
		if len(bad) > 0 {
			flags = append(flags, engine.FlagDisallowedImport)
			details = append(details, "imports outside the allowlist: "+strings.Join(bad, ", "))
		}
	}

	minTests := doc.Quality.MinTests
	if minTests <= 0 {
		minTests = p.cfg.MinTests
	}
	found := len(testDefPattern.FindAllString(tests, -1))
	if found < minTests {
		flags = append(flags, engine.FlagTooFewTests)
		details = append(details, fmt.Sprintf("not enough tests: found %d, expected >= %d", found, minTests))
	}

	if p.requireEdgeCaseTest(doc) && !hasEdgeCaseTest(tests) {
		flags = append(flags, engine.FlagNoEdgeCaseTest)
		details = append(details, "no test exercises an edge case (empty, invalid, or boundary input)")
	}

	return flags, details
}

func (p *Pipeline) requireEdgeCaseTest(doc *spec.Document) bool {
	if doc.Quality.RequireEdgeCaseTest {
		return true
	}
	return p.cfg.RequireEdgeCaseTest
}

// disallowedImports scans import statements and returns the top-level
// modules outside the effective allowlist, sorted and deduplicated. The
// generated module itself and any configured extras are always allowed;
// configured denials win over everything.
func (p *Pipeline) disallowedImports(source, localModule string) []string {
	allowed := func(top string) bool {
		for _, deny := range p.cfg.DeniedImports {
			if top == deny {
				return false
			}
		}
		if top == localModule || stdlibAllow[top] {
			return true
		}
		for _, extra := range p.cfg.ExtraAllowedImports {
			if top == extra {
				return true
			}
		}
		return false
	}

	seen := map[string]bool{}
	var bad []string
	for _, m := range importPattern.FindAllStringSubmatch(source, -1) {
		top := strings.SplitN(m[1], ".", 2)[0]
		if allowed(top) || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		bad = append(bad, m[1])
	}
	sort.Strings(bad)
	return bad
}

// hasEdgeCaseTest reports whether any test function name suggests an
// edge-case scenario. A name-based heuristic only — the engine never
// interprets test bodies.
func hasEdgeCaseTest(tests string) bool {
	namePattern := regexp.MustCompile(`def\s+(test_\w+)`)
	for _, m := range namePattern.FindAllStringSubmatch(tests, -1) {
		name := strings.ToLower(m[1])
		for _, hint := range edgeCaseHints {
			if strings.Contains(name, hint) {
				return true
			}
		}
	}
	return false
}
