package harness

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/engine"
	"github.com/all-of-us/cdr-deid/internal/schema"
	"github.com/all-of-us/cdr-deid/internal/store"
	"github.com/all-of-us/cdr-deid/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios against the fixture OMOP dataset with a fixed run id and
// clock, so results are reproducible.
type Harness struct {
	store   *store.Store
	schema  *schema.Static
	catalog *catalog.Static
	log     logrus.FieldLogger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory registry for isolation.
//
// Execution flow:
// 1. Build the fixture schema and catalog
// 2. Run the flow's tables as one batch, one worker, registered
// 3. Check each step's expect clause
// 4. Check every property on every plan
// 5. Evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	clock := testutil.NewFixedClock(testutil.Epoch)
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	h := &Harness{
		store:   st,
		schema:  schema.NewStatic(testutil.Tables()...),
		catalog: catalog.NewStatic(testutil.ConceptsWithout(scenario.Catalog.Without...)),
		log:     quiet,
	}

	runID := scenario.RunID
	if runID == "" {
		runID = "scenario-" + scenario.Name
	}

	ctx := context.Background()
	result := NewResult()
	result.RunID = runID

	eng := engine.New(h.newCompiler(),
		engine.WithWorkers(1),
		engine.WithRegistry(st),
		engine.WithRunIDGenerator(testutil.NewFixedRunID(runID)),
		engine.WithLogger(h.log),
	)
	dataset := scenario.dataset(testutil.Dataset)
	opts := scenario.Options.WithDefaults()
	report, err := eng.Run(ctx, dataset, scenario.tables(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	for i, res := range report.Results {
		if res.Err != nil {
			result.AddFailureTrace(res.Table, res.Err)
		} else {
			result.AddPlanTrace(res.Table, res.Plan)
		}
		if err := checkExpect(scenario.Flow[i], result.Trace[i]); err != nil {
			result.AddError(err.Error())
		}
	}

	for _, res := range report.Results {
		if res.Err != nil {
			continue
		}
		desc, err := h.schema.Describe(ctx, dataset, res.Table)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", res.Table, err)
		}
		table := res.Table
		pc := &PropertyContext{
			Table:   desc,
			Plan:    res.Plan,
			Options: opts,
			Recompile: func(ctx context.Context) (*compiler.QueryPlan, error) {
				return h.newCompiler().Compile(ctx, dataset, table, opts)
			},
		}
		for _, msg := range CheckProperties(ctx, pc) {
			result.AddError(msg)
		}
	}

	actx := &AssertionContext{Store: st, RunID: runID, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func (h *Harness) newCompiler() *compiler.Compiler {
	return compiler.New(h.schema, h.catalog, compiler.WithLogger(h.log))
}
