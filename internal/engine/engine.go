package engine

import (
	"context"
	"errors"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/store"
)

// RunIDGenerator generates unique run ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type RunIDGenerator interface {
	Generate() string
}

// PlanCompiler compiles one table. Implemented by *compiler.Compiler.
type PlanCompiler interface {
	Compile(ctx context.Context, dataset, table string, opts compiler.Options) (*compiler.QueryPlan, error)
	Tables(ctx context.Context, dataset string) ([]string, error)
}

// Registry is the append-only record of runs. Implemented by *store.Store.
type Registry interface {
	BeginRun(ctx context.Context, runID, dataset string) (store.Run, error)
	InsertPlan(ctx context.Context, rec store.PlanRecord) (store.PlanRecord, error)
	InsertFailure(ctx context.Context, f store.Failure) (store.Failure, error)
}

// DefaultWorkers is the worker count when none is configured.
var DefaultWorkers = runtime.GOMAXPROCS(0)

// Engine runs batch compilations.
//
// Thread-safety: Run may be called from multiple goroutines; runs share the
// compiler and its caches.
type Engine struct {
	compiler PlanCompiler
	registry Registry
	runIDs   RunIDGenerator
	workers  int
	log      logrus.FieldLogger
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithWorkers sets the maximum number of tables compiled at once.
// Values below 1 are ignored.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRegistry records every run in r.
func WithRegistry(r Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) EngineOption {
	return func(e *Engine) { e.runIDs = g }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine compiling through c.
func New(c PlanCompiler, opts ...EngineOption) *Engine {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	e := &Engine{
		compiler: c,
		runIDs:   UUIDv7Generator{},
		workers:  DefaultWorkers,
		log:      quiet,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TableResult is the outcome of one table in a run. Exactly one of Plan and
// Err is set.
type TableResult struct {
	Table string
	Plan  *compiler.QueryPlan
	Err   error
}

// Report summarizes a run. Results are in input order.
type Report struct {
	RunID   string
	Dataset string
	Results []TableResult
}

// Succeeded counts tables that compiled.
func (r *Report) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts tables that did not compile.
func (r *Report) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Run compiles tables of dataset under a fresh run id. An empty table list
// means every table the compiler's schema provider lists.
//
// The returned error covers the run as a whole: listing tables or
// registering the run. Per-table errors are in the report.
func (e *Engine) Run(ctx context.Context, dataset string, tables []string, opts compiler.Options) (*Report, error) {
	report := &Report{RunID: e.runIDs.Generate(), Dataset: dataset}
	log := e.log.WithFields(logrus.Fields{"run": report.RunID, "dataset": dataset})

	if len(tables) == 0 {
		listed, err := e.compiler.Tables(ctx, dataset)
		if err != nil {
			return nil, &RuntimeError{Code: ErrCodeListTables, Message: "list tables", RunID: report.RunID, Err: err}
		}
		tables = listed
	}

	if e.registry != nil {
		if _, err := e.registry.BeginRun(ctx, report.RunID, dataset); err != nil {
			return nil, &RuntimeError{Code: ErrCodeBeginRun, Message: "begin run", RunID: report.RunID, Err: err}
		}
	}

	log.WithFields(logrus.Fields{"tables": len(tables), "workers": e.workers}).Info("run started")

	report.Results = make([]TableResult, len(tables))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, table := range tables {
		i, table := i, table
		report.Results[i].Table = table
		g.Go(func() error {
			report.Results[i] = e.compileOne(ctx, log, report.RunID, ir.TableKey{Dataset: dataset, Table: table}, opts)
			return nil
		})
	}
	_ = g.Wait()

	log.WithFields(logrus.Fields{
		"succeeded": report.Succeeded(),
		"failed":    report.Failed(),
	}).Info("run finished")
	return report, nil
}

func (e *Engine) compileOne(ctx context.Context, log logrus.FieldLogger, runID string, key ir.TableKey, opts compiler.Options) TableResult {
	res := TableResult{Table: key.Table}
	log = log.WithField("table", key.Table)

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	plan, err := e.compiler.Compile(ctx, key.Dataset, key.Table, opts)
	if err != nil {
		res.Err = err
		log.WithField("kind", compiler.ErrorKind(err)).WithError(err).Warn("table failed")
		if rerr := e.recordFailure(ctx, runID, key, err); rerr != nil {
			log.WithError(rerr).Error("register failure")
			res.Err = errors.Join(err, rerr)
		}
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if e.registry != nil {
		_, err := e.registry.InsertPlan(ctx, store.PlanRecord{
			RunID:       runID,
			Key:         key,
			Fingerprint: plan.Fingerprint,
			SQL:         plan.SQL,
			Fields:      plan.Fields,
			Policies:    plan.Policies,
		})
		if err != nil {
			res.Err = newRegistryError(runID, key, err)
			log.WithError(err).Error("register plan")
			return res
		}
	}

	log.WithField("fingerprint", plan.Fingerprint).Debug("table compiled")
	res.Plan = plan
	return res
}

// recordFailure registers a compile failure. Canceled tables are not
// registered. A failed write is returned as a registry error.
func (e *Engine) recordFailure(ctx context.Context, runID string, key ir.TableKey, err error) error {
	kind := compiler.ErrorKind(err)
	if e.registry == nil || kind == compiler.KindCanceled || ctx.Err() != nil {
		return nil
	}
	_, ierr := e.registry.InsertFailure(ctx, store.Failure{
		RunID:   runID,
		Key:     key,
		Kind:    kind,
		Message: err.Error(),
	})
	if ierr != nil {
		return newRegistryError(runID, key, ierr)
	}
	return nil
}
