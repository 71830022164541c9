package compiler

import (
	"github.com/samber/lo"

	"github.com/all-of-us/cdr-deid/internal/policy"
	"github.com/all-of-us/cdr-deid/internal/queryir"
)

const (
	unionAlias   = "u"
	baseAlias    = "base"
	shiftedAlias = "shifted"
)

// compose combines the decisions into one query and returns it with its
// final field list.
//
// Without any applicable policy the table passes through unchanged.
// Otherwise:
//
//	rows  = Base (with substitutions) projected over the row fields
//	rows  = SELECT fields FROM (rows UNION ALL union_1 ... ) AS u GROUP BY fields
//	        when Union fragments exist
//	final = SELECT ... FROM (rows) AS base
//	        INNER JOIN (join) AS shifted ON shifted.k = base.k ...
//	        when a Join fragment exists
//
// The row fields are the retained fields plus any join key suppression
// removed. Every union branch is projected over exactly the row fields, so
// branch alignment holds by construction; queryir.Validate re-checks it.
// Final fields follow table column order, shifted dates in place.
func compose(t *policy.Target, decisions []policy.Decision) (queryir.Query, []string) {
	var (
		base    *policy.Fragment
		join    *policy.Fragment
		unions  []*policy.Fragment
		applied bool
	)
	subs := map[string]queryir.Expr{}
	for _, d := range decisions {
		if !d.Applicable {
			continue
		}
		applied = true
		for _, f := range d.Fragments {
			switch f.Role {
			case policy.RoleBase:
				base = f
			case policy.RoleJoin:
				join = f
			case policy.RoleUnion:
				unions = append(unions, f)
			}
		}
		for field, expr := range d.Substitutions {
			subs[field] = expr
		}
	}

	if !applied {
		all := t.Table.ColumnNames()
		return policy.Passthrough(t).Project(all), all
	}
	if base == nil {
		base = policy.Passthrough(t)
	}

	retained := base.Fields
	rowFields := retained
	final := retained
	var shifted []string
	if join != nil {
		rowFields = append(append([]string(nil), retained...), lo.Filter(join.Keys, func(k string, _ int) bool {
			return !lo.Contains(retained, k)
		})...)
		shifted = lo.Filter(join.Fields, func(f string, _ int) bool { return !lo.Contains(join.Keys, f) })
		final = nil
		for _, col := range t.Table.ColumnNames() {
			if lo.Contains(shifted, col) || lo.Contains(retained, col) {
				final = append(final, col)
			}
		}
	}

	rows := base.WithExprs(subs).Project(rowFields)
	if len(unions) > 0 {
		branches := []*queryir.Select{rows}
		for _, u := range unions {
			branches = append(branches, u.Project(rowFields))
		}
		rows = &queryir.Select{
			Projection: queryir.Columns(unionAlias, rowFields),
			From:       &queryir.Subquery{Query: &queryir.UnionAll{Branches: branches}, Alias: unionAlias},
			GroupBy:    columnExprs(unionAlias, rowFields),
		}
	}
	if join == nil {
		return rows, final
	}

	proj := make([]queryir.Projection, len(final))
	for i, f := range final {
		alias := baseAlias
		if lo.Contains(shifted, f) {
			alias = shiftedAlias
		}
		proj[i] = queryir.As(queryir.Col(alias, f), f)
	}
	return &queryir.Select{
		Projection: proj,
		From: &queryir.Join{
			Kind:  queryir.InnerJoin,
			Left:  &queryir.Subquery{Query: rows, Alias: baseAlias},
			Right: &queryir.Subquery{Query: join.Project(join.Fields), Alias: shiftedAlias},
			On:    queryir.EqualsAll(shiftedAlias, baseAlias, join.Keys),
		},
	}, final
}

func columnExprs(qualifier string, names []string) []queryir.Expr {
	out := make([]queryir.Expr, len(names))
	for i, n := range names {
		out[i] = queryir.Col(qualifier, n)
	}
	return out
}
