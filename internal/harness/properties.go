package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/all-of-us/cdr-deid/internal/compiler"
	"github.com/all-of-us/cdr-deid/internal/ir"
	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/querysql"
)

// Property is an invariant every compiled plan must satisfy, whatever the
// scenario asserts.
type Property struct {
	Name  string
	Check func(ctx context.Context, pc *PropertyContext) error
}

// PropertyContext is what a property sees of one compiled table.
type PropertyContext struct {
	Table *ir.TableDescriptor
	Plan  *compiler.QueryPlan

	// Options are the defaulted options the plan was compiled with.
	Options compiler.Options

	// Recompile compiles the table again on a fresh compiler.
	Recompile func(ctx context.Context) (*compiler.QueryPlan, error)
}

// Properties returns the invariants checked on every plan.
func Properties() []Property {
	return []Property{
		{Name: "no_duplicate_fields", Check: noDuplicateFields},
		{Name: "field_count", Check: fieldCount},
		{Name: "union_alignment", Check: unionAlignment},
		{Name: "category_completeness", Check: categoryCompleteness},
		{Name: "passthrough", Check: passthrough},
		{Name: "idempotent", Check: idempotent},
	}
}

// CheckProperties runs every property and returns the failure messages.
func CheckProperties(ctx context.Context, pc *PropertyContext) []string {
	var errs []string
	for _, p := range Properties() {
		if err := p.Check(ctx, pc); err != nil {
			errs = append(errs, fmt.Sprintf("property %s (%s): %v", p.Name, pc.Table.Key, err))
		}
	}
	return errs
}

func noDuplicateFields(_ context.Context, pc *PropertyContext) error {
	if uniq := lo.Uniq(pc.Plan.Fields); len(uniq) != len(pc.Plan.Fields) {
		return fmt.Errorf("fields %v repeat a name", pc.Plan.Fields)
	}
	return nil
}

// fieldCount: a plan outputs at most the table's columns, and only them.
func fieldCount(_ context.Context, pc *PropertyContext) error {
	if len(pc.Plan.Fields) > len(pc.Table.Columns) {
		return fmt.Errorf("%d fields from %d columns", len(pc.Plan.Fields), len(pc.Table.Columns))
	}
	for _, f := range pc.Plan.Fields {
		if !pc.Table.HasColumn(f) {
			return fmt.Errorf("field %q is not a column", f)
		}
	}
	return nil
}

// passthrough: a plan with no policy selects every column unchanged.
func passthrough(_ context.Context, pc *PropertyContext) error {
	if !pc.Plan.Passthrough() {
		return nil
	}
	path, err := querysql.TablePath(pc.Table.Key.Dataset, pc.Table.Key.Table)
	if err != nil {
		return err
	}
	cols := lo.Map(pc.Table.ColumnNames(), func(c string, _ int) string { return "t." + c })
	want := "SELECT " + strings.Join(cols, ", ") + " FROM " + path + " AS t"
	if pc.Plan.SQL != want {
		return fmt.Errorf("got %q, want %q", pc.Plan.SQL, want)
	}
	return nil
}

func idempotent(ctx context.Context, pc *PropertyContext) error {
	again, err := pc.Recompile(ctx)
	if err != nil {
		return fmt.Errorf("recompile: %w", err)
	}
	if again.Fingerprint != pc.Plan.Fingerprint || again.SQL != pc.Plan.SQL {
		return fmt.Errorf("recompiled plan differs: fingerprint %s, was %s", again.Fingerprint, pc.Plan.Fingerprint)
	}
	return nil
}

// unionAlignment: every UNION ALL in the plan, however deeply nested, has
// branches with the same output names in the same order.
func unionAlignment(_ context.Context, pc *PropertyContext) error {
	for i, u := range unions(pc.Plan.Query) {
		want := u.Branches[0].OutputNames()
		for j, b := range u.Branches[1:] {
			if got := b.OutputNames(); strings.Join(got, ",") != strings.Join(want, ",") {
				return fmt.Errorf("union %d branch %d has fields %v, branch 0 has %v", i, j+1, got, want)
			}
		}
	}
	return nil
}

// categoryCompleteness: every category column a plan outputs is
// generalized, and a generalized meta-table unions one branch per category
// next to the base rows (and the date rows when shifted).
func categoryCompleteness(_ context.Context, pc *PropertyContext) error {
	if pc.Plan.Query == nil {
		return nil
	}
	generalized := map[string]bool{}
	for _, sel := range selects(pc.Plan.Query) {
		for _, p := range sel.Projection {
			if _, ok := p.Expr.(queryir.If); ok {
				generalized[p.OutputName()] = true
			}
		}
	}
	for _, cat := range pc.Options.Categories {
		if !cat.AppliesTo(pc.Table) {
			continue
		}
		for _, field := range []string{cat.IDField, cat.NameField} {
			if field != "" && lo.Contains(pc.Plan.Fields, field) && !generalized[field] {
				return fmt.Errorf("category %s: field %s is not generalized", cat.Name, field)
			}
		}
	}

	meta := lo.Contains(pc.Options.MetaTableNames, pc.Table.Key.Table)
	if !meta || !lo.Contains(pc.Plan.Policies, "generalize") {
		return nil
	}
	want := 1 + len(pc.Options.Categories)
	if lo.Contains(pc.Plan.Policies, "shift") {
		want++
	}
	for _, u := range unions(pc.Plan.Query) {
		if len(u.Branches) == want {
			return nil
		}
	}
	return fmt.Errorf("no union with %d branches (base, dates, %d categories)", want, len(pc.Options.Categories))
}

// walk visits every query nested in q, q first.
func walk(q queryir.Query, visit func(queryir.Query)) {
	if q == nil {
		return
	}
	visit(q)
	switch q := q.(type) {
	case *queryir.Select:
		walkSource(q.From, visit)
	case *queryir.UnionAll:
		for _, b := range q.Branches {
			walk(b, visit)
		}
	}
}

func walkSource(s queryir.Source, visit func(queryir.Query)) {
	switch s := s.(type) {
	case *queryir.Subquery:
		walk(s.Query, visit)
	case *queryir.Join:
		walkSource(s.Left, visit)
		walkSource(s.Right, visit)
	}
}

func unions(q queryir.Query) []*queryir.UnionAll {
	var out []*queryir.UnionAll
	walk(q, func(q queryir.Query) {
		if u, ok := q.(*queryir.UnionAll); ok && len(u.Branches) > 0 {
			out = append(out, u)
		}
	})
	return out
}

func selects(q queryir.Query) []*queryir.Select {
	var out []*queryir.Select
	walk(q, func(q queryir.Query) {
		if s, ok := q.(*queryir.Select); ok {
			out = append(out, s)
		}
	})
	return out
}
