package policy

import (
	"context"

	"github.com/all-of-us/cdr-deid/internal/queryir"
	"github.com/all-of-us/cdr-deid/internal/rules"
)

const (
	anchorAlias = "anchor"
	anchorField = "anchor_date"
)

// Shift replaces dates with the signed number of days since the subject's
// anchor date. Subjects without an anchor row get NULL.
//
// Physical date columns become a Join fragment keyed by subject and row;
// encoded date rows of a meta-table become a Union fragment. A meta-table
// with physical dates gets both.
type Shift struct{}

// Name implements Policy.
func (Shift) Name() string { return "shift" }

// Applicable implements Policy.
func (Shift) Applicable(t *Target) bool {
	return t.Meta || t.ShiftsPhysicalDates()
}

// Compile implements Policy.
func (Shift) Compile(_ context.Context, t *Target) (Decision, error) {
	var d Decision
	if t.ShiftsPhysicalDates() {
		d.Fragments = append(d.Fragments, shiftJoin(t))
	}
	if t.Meta {
		d.Fragments = append(d.Fragments, shiftUnion(t))
	}
	return d, nil
}

func shiftJoin(t *Target) *Fragment {
	keys := t.JoinKeys()
	dates := t.Table.DateColumns()
	exprs := make(map[string]queryir.Expr, len(dates))
	for _, c := range dates {
		exprs[c] = daysSinceAnchor(queryir.Col(TableAlias, c))
	}
	return &Fragment{
		Role:   RoleJoin,
		Name:   "dates",
		Source: anchored(t),
		Alias:  TableAlias,
		Fields: append(append([]string(nil), keys...), dates...),
		Exprs:  exprs,
		Keys:   keys,
	}
}

func shiftUnion(t *Target) *Fragment {
	value := queryir.Cast{
		Expr: daysSinceAnchor(queryir.Col(TableAlias, rules.FieldValueAsString)),
		Type: "STRING",
	}
	return &Fragment{
		Role:   RoleUnion,
		Name:   "dates",
		Source: anchored(t),
		Alias:  TableAlias,
		Filter: queryir.In{Expr: t.code(), Values: queryir.Strings(t.DateCodes)},
		Fields: []string{t.SubjectKey, rules.FieldValueAsString},
		Exprs:  map[string]queryir.Expr{rules.FieldValueAsString: value},
	}
}

func daysSinceAnchor(value queryir.Expr) queryir.Expr {
	return queryir.DateDiffDays(value, queryir.Col(anchorAlias, anchorField))
}

// anchored is the target table left-joined to the per-subject anchor dates.
func anchored(t *Target) queryir.Source {
	return &queryir.Join{
		Kind:  queryir.LeftJoin,
		Left:  t.source(),
		Right: &queryir.Subquery{Query: anchorQuery(t), Alias: anchorAlias},
		On:    queryir.EqualsAll(anchorAlias, TableAlias, []string{t.SubjectKey}),
	}
}

// anchorQuery selects one anchor date per subject:
//
//	SELECT subject, MAX(value_as_string) AS anchor_date
//	FROM anchor_table WHERE code = anchor_code GROUP BY subject
func anchorQuery(t *Target) *queryir.Select {
	const a = "a"
	return &queryir.Select{
		Projection: []queryir.Projection{
			queryir.As(queryir.Col(a, t.SubjectKey), t.SubjectKey),
			queryir.As(queryir.Call{
				Func: "MAX",
				Args: []queryir.Expr{queryir.Col(a, rules.FieldValueAsString)},
			}, anchorField),
		},
		From:    &queryir.TableRef{Dataset: t.Table.Key.Dataset, Table: t.AnchorTable, Alias: a},
		Where:   queryir.Equals{Left: queryir.Col(a, t.CodeField), Right: queryir.StringLit(t.AnchorCode)},
		GroupBy: []queryir.Expr{queryir.Col(a, t.SubjectKey)},
	}
}
