package policy

import (
	"context"

	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/rules"
)

// Generalize coarsens categorical attributes. Physical category columns are
// substituted in place in the Base projection; on a meta-table each
// category's question rows are re-admitted through a Union fragment with
// their value fields rewritten.
type Generalize struct{}

// Name implements Policy.
func (Generalize) Name() string { return "generalize" }

// Applicable implements Policy.
func (Generalize) Applicable(t *Target) bool {
	if t.Meta && len(t.Categories) > 0 {
		return true
	}
	for _, r := range t.Categories {
		if r.Category.AppliesTo(t.Table) {
			return true
		}
	}
	return false
}

// Compile implements Policy.
func (Generalize) Compile(_ context.Context, t *Target) (Decision, error) {
	var d Decision
	for _, r := range t.Categories {
		if !r.Category.AppliesTo(t.Table) {
			continue
		}
		if d.Substitutions == nil {
			d.Substitutions = make(map[string]queryir.Expr)
		}
		for field, expr := range r.PhysicalExpressions(TableAlias) {
			if t.Table.HasColumn(field) {
				d.Substitutions[field] = expr
			}
		}
	}
	if t.Meta {
		for _, r := range t.Categories {
			d.Fragments = append(d.Fragments, categoryUnion(t, r))
		}
	}
	return d, nil
}

func categoryUnion(t *Target, r *rules.Resolution) *Fragment {
	fields := []string{t.SubjectKey}
	exprs := make(map[string]queryir.Expr, len(rules.EncodedFields))
	for field, expr := range r.EncodedExpressions(TableAlias) {
		if t.Table.HasColumn(field) {
			exprs[field] = expr
		}
	}
	for _, field := range rules.EncodedFields {
		if _, ok := exprs[field]; ok {
			fields = append(fields, field)
		}
	}
	return &Fragment{
		Role:   RoleUnion,
		Name:   r.Category.Name,
		Source: t.source(),
		Alias:  TableAlias,
		Filter: queryir.In{Expr: t.code(), Values: queryir.Strings(r.QuestionCodes)},
		Fields: fields,
		Exprs:  exprs,
	}
}
