package policy

import (
	"github.com/all-of-us/cdr-deid/internal/queryir"
)

// Role says how the compiler combines a fragment with the others.
type Role string

const (
	// RoleBase supplies the retained rows and fields of the table.
	RoleBase Role = "base"
	// RoleJoin supplies replacement values joined back onto base rows by key.
	RoleJoin Role = "join"
	// RoleUnion supplies extra rows appended to the base rows with UNION ALL.
	RoleUnion Role = "union"
)

// Fragment is a composable piece of a plan: a source, an optional row
// filter, and the fields the fragment defines.
//
// Fields lists the declared output fields in order. Exprs holds the
// expression for each declared field that is not a plain column of Alias.
// Keys lists the fields a Join fragment is matched on.
type Fragment struct {
	Role   Role
	Name   string
	Source queryir.Source
	Alias  string
	Filter queryir.Predicate
	Fields []string
	Exprs  map[string]queryir.Expr
	Keys   []string
}

// Expr returns the expression producing field. Fields the fragment does not
// rewrite pass through from Alias.
func (f *Fragment) Expr(field string) queryir.Expr {
	if e, ok := f.Exprs[field]; ok {
		return e
	}
	return queryir.Col(f.Alias, field)
}

// Project renders the fragment over fields, in that order. The result is a
// SELECT whose output names are exactly fields.
func (f *Fragment) Project(fields []string) *queryir.Select {
	proj := make([]queryir.Projection, len(fields))
	for i, name := range fields {
		proj[i] = queryir.As(f.Expr(name), name)
	}
	return &queryir.Select{
		Projection: proj,
		From:       f.Source,
		Where:      f.Filter,
	}
}

// WithExprs returns a copy of f whose expressions are overlaid by exprs.
// Overlays for fields outside Fields are kept too; Project uses them for any
// field it is asked for.
func (f *Fragment) WithExprs(exprs map[string]queryir.Expr) *Fragment {
	if len(exprs) == 0 {
		return f
	}
	cp := *f
	cp.Exprs = make(map[string]queryir.Expr, len(f.Exprs)+len(exprs))
	for k, v := range f.Exprs {
		cp.Exprs[k] = v
	}
	for k, v := range exprs {
		cp.Exprs[k] = v
	}
	return &cp
}

// Decision is the outcome of one policy for one table.
//
// Substitutions replace field expressions of the Base projection; they carry
// the generalization of physical categorical columns.
type Decision struct {
	Applicable    bool
	Fragments     []*Fragment
	Substitutions map[string]queryir.Expr
}

// ByRole returns the fragments of the given role in declaration order.
func (d Decision) ByRole(role Role) []*Fragment {
	var out []*Fragment
	for _, f := range d.Fragments {
		if f.Role == role {
			out = append(out, f)
		}
	}
	return out
}
