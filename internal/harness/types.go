package harness

import (
	"github.com/all-of-us/cdr-deid/internal/compiler"
)

// Outcome cases recorded in the trace. A failed table records its error
// kind instead (e.g. "CategoryUndefined").
const (
	CasePlan = "Plan"
)

// TraceEvent is the outcome of compiling one table.
type TraceEvent struct {
	Table    string   `json:"table"`
	Case     string   `json:"case"` // CasePlan or a compiler error kind
	Policies []string `json:"policies,omitempty"`
	Fields   []string `json:"fields,omitempty"`
	SQL      string   `json:"sql,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause, assertion and property held.
	Pass bool `json:"pass"`

	// RunID is the registry run the scenario compiled under.
	RunID string `json:"run_id"`

	// Trace holds one event per flow step, in flow order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	plans    map[string]*compiler.QueryPlan
	failures map[string]error
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		plans:    make(map[string]*compiler.QueryPlan),
		failures: make(map[string]error),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddPlanTrace records a compiled table.
func (r *Result) AddPlanTrace(table string, plan *compiler.QueryPlan) {
	r.plans[table] = plan
	r.Trace = append(r.Trace, TraceEvent{
		Table:    table,
		Case:     CasePlan,
		Policies: plan.Policies,
		Fields:   plan.Fields,
		SQL:      plan.SQL,
	})
}

// AddFailureTrace records a table that failed to compile.
func (r *Result) AddFailureTrace(table string, err error) {
	r.failures[table] = err
	r.Trace = append(r.Trace, TraceEvent{
		Table: table,
		Case:  compiler.ErrorKind(err),
		Error: err.Error(),
	})
}

// Plan returns the plan compiled for table, if any.
func (r *Result) Plan(table string) (*compiler.QueryPlan, bool) {
	p, ok := r.plans[table]
	return p, ok
}
