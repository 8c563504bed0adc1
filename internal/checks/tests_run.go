package checks

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// testReport is the parsed outcome of one unittest invocation.
type testReport struct {
	Total  int
	Passed int
	Detail string
	Raw    string
}

// unittest prints its summary on stderr; these cover the "Ran N tests"
// line and the failure tally of the FAILED line.
var (
	ranPattern    = regexp.MustCompile(`Ran (\d+) tests? in`)
	failedPattern = regexp.MustCompile(`(failures|errors)=(\d+)`)
)

// runTests discovers and runs the test module with `python -m unittest`
// in the scratch directory, then parses the runner's summary into
// pass/total counts. A runner that produces no parseable summary is
// reported as zero tests — the engine treats that as a test failure.
func (p *Pipeline) runTests(ctx context.Context, dir string) (testReport, error) {
	out, err := runCommand(ctx, dir, p.cfg.PythonBin, "-m", "unittest", "discover", "-v", "-p", "test_*.py")
	if err != nil {
		return testReport{}, err
	}

	raw := out.Stderr
	if strings.TrimSpace(raw) == "" {
		raw = out.Stdout
	}

	report := testReport{Raw: raw}

	if m := ranPattern.FindStringSubmatch(raw); m != nil {
		report.Total, _ = strconv.Atoi(m[1])
	}

	failed := 0
	for _, m := range failedPattern.FindAllStringSubmatch(raw, -1) {
		n, _ := strconv.Atoi(m[2])
		failed += n
	}
	report.Passed = report.Total - failed
	if report.Passed < 0 {
		report.Passed = 0
	}

	switch {
	case report.Total == 0:
		report.Detail = "unittest ran no tests: " + firstLines(raw, 3)
	case out.ExitCode != 0 || failed > 0:
		report.Detail = "unittest failed (" + strconv.Itoa(report.Passed) + "/" +
			strconv.Itoa(report.Total) + " passed): " + failureExcerpt(raw)
	}
	return report, nil
}

// failureExcerpt pulls the most useful lines out of unittest output for
// feedback: the per-test FAIL/ERROR headers plus the first assertion
// message, without replaying whole tracebacks.
func failureExcerpt(raw string) string {
	var picked []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "FAIL:"),
			strings.HasPrefix(trimmed, "ERROR:"),
			strings.HasPrefix(trimmed, "AssertionError"),
			strings.HasPrefix(trimmed, "FAILED ("):
			picked = append(picked, trimmed)
		}
		if len(picked) >= 6 {
			break
		}
	}
	if len(picked) == 0 {
		return firstLines(raw, 3)
	}
	return strings.Join(picked, "; ")
}

// firstLines returns up to n non-empty lines of s joined with "; ".
func firstLines(s string, n int) string {
	var picked []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		picked = append(picked, trimmed)
		if len(picked) >= n {
			break
		}
	}
	return strings.Join(picked, "; ")
}
