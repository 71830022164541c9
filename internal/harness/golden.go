package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a trace as a SQL script: one commented statement per
// compiled table, one comment line per failed table.
func Snapshot(trace []TraceEvent) []byte {
	var b strings.Builder
	for i, event := range trace {
		if i > 0 {
			b.WriteString("\n")
		}
		if event.Case != CasePlan {
			fmt.Fprintf(&b, "-- %s: %s\n", event.Table, event.Case)
			continue
		}
		policies := strings.Join(event.Policies, ", ")
		if policies == "" {
			policies = "passthrough"
		}
		fmt.Fprintf(&b, "-- %s: %s\n%s;\n", event.Table, policies, event.SQL)
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario, fails the test if the scenario does
// not pass, and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if !result.Pass {
		t.Errorf("scenario %s failed:\n%s", scenario.Name, strings.Join(result.Errors, "\n"))
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's snapshot against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(result.Trace))
}
