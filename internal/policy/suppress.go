package policy

import (
	"context"

	"github.com/samber/lo"

	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/rules"
)

// Suppress removes date-like and always-drop columns. On a meta-table it
// also keeps only rows that are neither date observations nor category
// observations; those rows are re-admitted, rewritten, by Shift and
// Generalize.
type Suppress struct{}

// Name implements Policy.
func (Suppress) Name() string { return "suppress" }

// Applicable implements Policy.
func (Suppress) Applicable(t *Target) bool {
	if t.Meta || len(t.Table.DateColumns()) > 0 {
		return true
	}
	return lo.ContainsBy(t.AlwaysDrop, t.Table.HasColumn)
}

// Compile implements Policy. It yields a single Base fragment.
func (Suppress) Compile(_ context.Context, t *Target) (Decision, error) {
	base := &Fragment{
		Role:   RoleBase,
		Name:   "retained",
		Source: t.source(),
		Alias:  TableAlias,
		Fields: t.Retained(),
	}
	if t.Meta {
		base.Filter = metaFilter(t)
	}
	return Decision{Fragments: []*Fragment{base}}, nil
}

// metaFilter keeps rows whose code is NULL or not among the date and
// category question codes:
//
//	(code IS NULL OR code NOT IN (dates ∪ questions))
func metaFilter(t *Target) queryir.Predicate {
	excluded := lo.Uniq(append(append([]string(nil), t.DateCodes...), rules.QuestionCodes(t.Categories)...))
	return queryir.Or{Predicates: []queryir.Predicate{
		queryir.IsNull{Expr: t.code()},
		queryir.In{Expr: t.code(), Values: queryir.Strings(excluded), Negate: true},
	}}
}
