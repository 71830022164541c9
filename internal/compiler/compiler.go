// Package compiler assembles the policies' fragments into one query plan
// per table and caches the result.
//
// Compile runs, for one table:
//
//	describe -> resolve categories/date codes -> Suppress -> Shift ->
//	Generalize -> compose -> validate -> render -> cache
//
// Schema and catalog lookups are the only I/O; they are memoized for the
// lifetime of the Compiler, so compiling many tables in parallel issues at
// most one backend call per distinct lookup.
package compiler

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/all-of-us/cdr-deid/internal/catalog"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/plancache"
	"github.com/all-of-us/cdr-deid/internal/policy"
	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/querysql"
	"github.com/all-of-us/cdr-deid/internal/rules"
	"github.com/all-of-us/cdr-deid/internal/schema"
)

type decisionKey struct {
	Policy string
	Table  ir.TableKey
}

// Compiler compiles and caches query plans. It is safe for concurrent use.
type Compiler struct {
	schema   *schema.Cached
	catalog  *catalog.Cached
	resolver *rules.Resolver
	policies []policy.Policy
	render   *querysql.SQLCompiler
	log      logrus.FieldLogger

	plans     *plancache.Cache[ir.TableKey, *QueryPlan]
	decisions *plancache.Cache[decisionKey, policy.Decision]

	mu         sync.Mutex
	alwaysDrop []string
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Compiler) { c.log = l }
}

// New creates a Compiler over a schema provider and a concept catalog.
// Both are wrapped in session caches owned by the Compiler.
func New(p schema.Provider, cat catalog.Catalog, opts ...Option) *Compiler {
	cachedCatalog := catalog.NewCached(cat)
	c := &Compiler{
		schema:    schema.NewCached(p),
		catalog:   cachedCatalog,
		resolver:  rules.NewResolver(cachedCatalog),
		policies:  policy.Default(),
		render:    querysql.NewSQLCompiler(),
		log:       discardLogger(),
		plans:     plancache.New[ir.TableKey, *QueryPlan](),
		decisions: plancache.New[decisionKey, policy.Decision](),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Compile returns the plan of dataset.table, building it on first use.
//
// A cached plan is returned as-is regardless of opts; call Invalidate or
// Reset to recompile. Failures are returned as typed errors and leave
// nothing cached.
func (c *Compiler) Compile(ctx context.Context, dataset, table string, opts Options) (*QueryPlan, error) {
	opts = opts.WithDefaults()
	if err := opts.Check(); err != nil {
		return nil, err
	}
	drop := c.accumulate(opts.AlwaysDropFields)
	key := ir.TableKey{Dataset: dataset, Table: table}

	return c.plans.GetOrCompute(ctx, key, func(ctx context.Context) (*QueryPlan, error) {
		return c.build(ctx, key, opts, drop)
	})
}

// GetPlan returns the cached plan without compiling.
func (c *Compiler) GetPlan(dataset, table string) (*QueryPlan, error) {
	key := ir.TableKey{Dataset: dataset, Table: table}
	plan, ok := c.plans.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotCompiled, key)
	}
	return plan, nil
}

// Invalidate forgets the plan, policy decisions and schema of one table.
func (c *Compiler) Invalidate(dataset, table string) {
	key := ir.TableKey{Dataset: dataset, Table: table}
	c.plans.Invalidate(key)
	for _, p := range c.policies {
		c.decisions.Invalidate(decisionKey{Policy: p.Name(), Table: key})
	}
	c.schema.Invalidate(dataset, table)
}

// Reset forgets everything, including catalog lookups and the accumulated
// always-drop fields.
func (c *Compiler) Reset() {
	c.plans.Clear()
	c.decisions.Clear()
	c.schema.Reset()
	c.catalog.Reset()
	c.mu.Lock()
	c.alwaysDrop = nil
	c.mu.Unlock()
}

// Tables lists the tables of a dataset through the schema provider.
func (c *Compiler) Tables(ctx context.Context, dataset string) ([]string, error) {
	return c.schema.ListTables(ctx, dataset)
}

// AlwaysDrop returns the accumulated always-drop fields.
func (c *Compiler) AlwaysDrop() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.alwaysDrop...)
}

// accumulate merges fields into the always-drop set and returns a snapshot.
func (c *Compiler) accumulate(fields []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alwaysDrop = lo.Uniq(append(c.alwaysDrop, fields...))
	return append([]string(nil), c.alwaysDrop...)
}

func (c *Compiler) build(ctx context.Context, key ir.TableKey, opts Options, drop []string) (*QueryPlan, error) {
	log := c.log.WithField("table", key.String())

	desc, err := c.schema.Describe(ctx, key.Dataset, key.Table)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", key, err)
	}

	target, err := c.target(ctx, desc, opts, drop)
	if err != nil {
		return nil, err
	}
	if dates := desc.DateColumns(); len(dates) > 0 && !target.ShiftsPhysicalDates() {
		log.WithField("columns", dates).Warn("date columns are dropped, not shifted")
	}

	decisions := make([]policy.Decision, len(c.policies))
	var applied []string
	for i, p := range c.policies {
		d, err := c.decisions.GetOrCompute(ctx, decisionKey{Policy: p.Name(), Table: key}, func(ctx context.Context) (policy.Decision, error) {
			return policy.Evaluate(ctx, p, target)
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		decisions[i] = d
		if d.Applicable {
			applied = append(applied, p.Name())
		}
	}

	query, fields := compose(target, decisions)
	if res := queryir.Validate(query); !res.Valid {
		return nil, &ComposeError{Key: key, Problems: res.Problems}
	}
	sql, err := c.render.Compile(query)
	if err != nil {
		return nil, &ComposeError{Key: key, Problems: []string{err.Error()}}
	}
	fingerprint, err := ir.PlanFingerprint(key, fields, sql)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"policies": applied,
		"fields":   len(fields),
	}).Debug("compiled plan")

	return &QueryPlan{
		Key:         key,
		SQL:         sql,
		Fields:      fields,
		Policies:    applied,
		Fingerprint: fingerprint,
		Query:       query,
	}, nil
}

// target gathers everything the policies need for one table. Only the
// categories a table can carry are resolved, so a broken category fails
// the tables that need it and no others.
func (c *Compiler) target(ctx context.Context, desc *ir.TableDescriptor, opts Options, drop []string) (*policy.Target, error) {
	key := desc.Key
	meta := lo.Contains(opts.MetaTableNames, key.Table)

	rowKey := key.Table + "_id"
	if !desc.HasColumn(rowKey) {
		rowKey = ""
	}

	if meta {
		var missing []string
		for _, col := range []string{opts.SubjectKeyField, opts.CodeField, rules.FieldValueSourceConceptID, rules.FieldValueAsString} {
			if !desc.HasColumn(col) {
				missing = append(missing, fmt.Sprintf("meta-table lacks column %q", col))
			}
		}
		if len(missing) > 0 {
			return nil, &ComposeError{Key: key, Problems: missing}
		}
	}

	var cats []rules.Category
	for _, cat := range opts.Categories {
		cat = cat.Restrict(opts.VocabularyID, opts.ConceptClassIDs)
		if meta || cat.AppliesTo(desc) {
			cats = append(cats, cat)
		}
	}
	resolved, err := c.resolver.ResolveAll(ctx, key.Dataset, cats)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}

	var dateCodes []string
	if meta {
		rows, err := c.catalog.Lookup(ctx, key.Dataset, ir.FilterSpec{
			VocabularyID:    opts.VocabularyID,
			ConceptClassIDs: opts.ConceptClassIDs,
			CodePattern:     opts.DateCodePattern,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: date concepts: %w", key, err)
		}
		dateCodes = lo.Uniq(lo.Map(rows, func(r ir.ConceptRow, _ int) string { return r.Code }))
	}

	return &policy.Target{
		Table:         desc,
		Meta:          meta,
		SubjectKey:    opts.SubjectKeyField,
		RowKey:        rowKey,
		CodeField:     opts.CodeField,
		AnchorTable:   opts.AnchorTable,
		AnchorCode:    opts.AnchorObservationCode,
		ShiftPhysical: opts.PhysicalDates == DatesShift,
		DateCodes:     dateCodes,
		Categories:    resolved,
		AlwaysDrop:    drop,
	}, nil
}
