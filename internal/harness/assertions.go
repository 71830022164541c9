package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/all-of-us/cdr-deid/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Table    string       // Table the assertion is about, if any
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Table != "" {
		fmt.Fprintf(&buf, " (%s)", e.Table)
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, event.Table, event.Case)
	}

	return buf.String()
}

// AssertionContext provides what assertions need beyond the result.
type AssertionContext struct {
	Store *store.Store
	RunID string
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	if a.Type == AssertRegistered {
		return assertRegistered(actx, result.Trace, a)
	}

	plan, ok := result.Plan(a.Table)
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Table:    a.Table,
			Expected: "a compiled plan",
			Actual:   "table did not compile",
			Trace:    result.Trace,
		}
	}

	switch a.Type {
	case AssertFieldsAbsent:
		if found := lo.Filter(a.Fields, func(f string, _ int) bool { return lo.Contains(plan.Fields, f) }); len(found) > 0 {
			return &AssertionError{
				Type:     a.Type,
				Table:    a.Table,
				Expected: fmt.Sprintf("fields %v absent", a.Fields),
				Actual:   fmt.Sprintf("present: %v", found),
				Trace:    result.Trace,
			}
		}
	case AssertFieldsPresent:
		if missing := lo.Filter(a.Fields, func(f string, _ int) bool { return !lo.Contains(plan.Fields, f) }); len(missing) > 0 {
			return &AssertionError{
				Type:     a.Type,
				Table:    a.Table,
				Expected: fmt.Sprintf("fields %v present", a.Fields),
				Actual:   fmt.Sprintf("missing: %v", missing),
				Trace:    result.Trace,
			}
		}
	case AssertSQLContains:
		if !strings.Contains(plan.SQL, a.Text) {
			return &AssertionError{
				Type:     a.Type,
				Table:    a.Table,
				Expected: fmt.Sprintf("SQL containing %q", a.Text),
				Actual:   plan.SQL,
				Trace:    result.Trace,
			}
		}
	case AssertSQLNotContains:
		if strings.Contains(plan.SQL, a.Text) {
			return &AssertionError{
				Type:     a.Type,
				Table:    a.Table,
				Expected: fmt.Sprintf("SQL without %q", a.Text),
				Actual:   plan.SQL,
				Trace:    result.Trace,
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// assertRegistered checks the registry counts of the scenario's run.
func assertRegistered(actx *AssertionContext, trace []TraceEvent, a Assertion) error {
	plans, err := actx.Store.Plans(actx.Ctx, actx.RunID)
	if err != nil {
		return fmt.Errorf("registered: %w", err)
	}
	failures, err := actx.Store.Failures(actx.Ctx, actx.RunID)
	if err != nil {
		return fmt.Errorf("registered: %w", err)
	}
	if len(plans) != a.Plans || len(failures) != a.Failures {
		return &AssertionError{
			Type:     AssertRegistered,
			Expected: fmt.Sprintf("%d plans, %d failures", a.Plans, a.Failures),
			Actual:   fmt.Sprintf("%d plans, %d failures", len(plans), len(failures)),
			Trace:    trace,
		}
	}
	return nil
}

// checkExpect compares a flow step's outcome with its expect clause.
func checkExpect(step FlowStep, event TraceEvent) error {
	want := ExpectClause{Case: CasePlan}
	if step.Expect != nil {
		want = *step.Expect
	}
	if event.Case != want.Case {
		actual := event.Case
		if event.Error != "" {
			actual += ": " + event.Error
		}
		return &AssertionError{
			Type:     "expect",
			Table:    step.Compile,
			Expected: "case " + want.Case,
			Actual:   actual,
		}
	}
	if want.Policies != nil && strings.Join(want.Policies, ",") != strings.Join(event.Policies, ",") {
		return &AssertionError{
			Type:     "expect",
			Table:    step.Compile,
			Expected: fmt.Sprintf("policies %v", want.Policies),
			Actual:   fmt.Sprintf("policies %v", event.Policies),
		}
	}
	return nil
}
