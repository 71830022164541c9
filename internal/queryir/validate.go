package queryir

import (
	"fmt"
	"strings"
)

// ValidationResult contains the structural problems found in a query.
type ValidationResult struct {
	// Valid indicates the query satisfies every composition invariant.
	Valid bool

	// Problems lists each violation found, in traversal order.
	// Empty when Valid is true.
	Problems []string
}

// Error returns the problems joined into one message, or "" when valid.
func (r ValidationResult) Error() string {
	return strings.Join(r.Problems, "; ")
}

// Validate checks a query against the composition invariants:
//  1. Every Select has a FROM source and at least one projection
//  2. Output names are present and unique within a Select
//  3. Every UnionAll branch has the same output names, count and order
//  4. Joins have an ON predicate; subqueries have an alias
//
// Validate is a pure function with no side effects.
func Validate(query Query) ValidationResult {
	v := &validator{problems: []string{}}
	v.validateQuery(query, "query")

	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query, path string) {
	switch query := q.(type) {
	case nil:
		v.addProblem("%s: nil query", path)
	case *Select:
		v.validateSelect(query, path)
	case *UnionAll:
		v.validateUnion(query, path)
	default:
		v.addProblem("%s: unknown query type %T", path, q)
	}
}

func (v *validator) validateSelect(sel *Select, path string) {
	if sel == nil {
		v.addProblem("%s: nil select", path)
		return
	}
	if len(sel.Projection) == 0 {
		v.addProblem("%s: empty projection", path)
	}

	seen := make(map[string]bool, len(sel.Projection))
	for i, p := range sel.Projection {
		name := p.OutputName()
		if name == "" {
			v.addProblem("%s: projection %d has no output name", path, i)
			continue
		}
		if seen[name] {
			v.addProblem("%s: duplicate output field %q", path, name)
		}
		seen[name] = true
		if p.Expr == nil {
			v.addProblem("%s: projection %q has no expression", path, name)
		}
	}

	if sel.From == nil {
		v.addProblem("%s: missing FROM", path)
		return
	}
	v.validateSource(sel.From, path+".from")
}

func (v *validator) validateUnion(u *UnionAll, path string) {
	if u == nil || len(u.Branches) == 0 {
		v.addProblem("%s: union without branches", path)
		return
	}

	want := u.Branches[0].OutputNames()
	for i, branch := range u.Branches {
		branchPath := fmt.Sprintf("%s.branch[%d]", path, i)
		v.validateSelect(branch, branchPath)
		if i == 0 || branch == nil {
			continue
		}
		got := branch.OutputNames()
		if len(got) != len(want) {
			v.addProblem("%s: %d fields, first branch has %d", branchPath, len(got), len(want))
			continue
		}
		for j := range got {
			if got[j] != want[j] {
				v.addProblem("%s: field %d is %q, first branch has %q", branchPath, j, got[j], want[j])
				break
			}
		}
	}
}

func (v *validator) validateSource(s Source, path string) {
	switch src := s.(type) {
	case *TableRef:
		if src.Dataset == "" || src.Table == "" {
			v.addProblem("%s: table reference needs dataset and table", path)
		}
	case *Subquery:
		if src.Alias == "" {
			v.addProblem("%s: subquery without alias", path)
		}
		v.validateQuery(src.Query, path+".subquery")
	case *Join:
		if src.On == nil {
			v.addProblem("%s: join without ON predicate", path)
		}
		if src.Kind != InnerJoin && src.Kind != LeftJoin {
			v.addProblem("%s: unsupported join kind %q", path, src.Kind)
		}
		v.validateSource(src.Left, path+".left")
		v.validateSource(src.Right, path+".right")
	case nil:
		v.addProblem("%s: nil source", path)
	default:
		v.addProblem("%s: unknown source type %T", path, s)
	}
}
