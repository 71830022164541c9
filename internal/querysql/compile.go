package querysql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/all-of-us/cdr-deid/internal/queryir"
)

var (
	// plainIdentifier matches identifiers that need no quoting.
	plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// functionName matches function names and bare keywords.
	// Only upper-case names are accepted so that nothing user-supplied can
	// reach the output unquoted.
	functionName = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

	// typeName matches cast target types such as DATE or STRING.
	typeName = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
)

// SQLCompiler renders QueryIR to BigQuery Standard SQL text.
//
// The output is a single self-contained statement suitable for submission
// as a query job: literals are inlined with proper quoting because the job
// runs without bind parameters.
//
// CRITICAL: Rendering is deterministic. The same IR always produces the same
// text, which makes plan fingerprints stable across runs.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a QueryIR query to SQL text.
func (c *SQLCompiler) Compile(q queryir.Query) (string, error) {
	if q == nil {
		return "", fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case *queryir.Select:
		return c.compileSelect(query)
	case *queryir.UnionAll:
		return c.compileUnion(query)
	default:
		return "", fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a queryir.Select.
func (c *SQLCompiler) compileSelect(q *queryir.Select) (string, error) {
	if q == nil {
		return "", fmt.Errorf("cannot compile nil select")
	}
	if len(q.Projection) == 0 {
		return "", fmt.Errorf("select has no projection")
	}

	items := make([]string, len(q.Projection))
	for i, p := range q.Projection {
		item, err := c.compileProjection(p)
		if err != nil {
			return "", fmt.Errorf("projection %d: %w", i, err)
		}
		items[i] = item
	}

	from, err := c.compileSource(q.From)
	if err != nil {
		return "", fmt.Errorf("compile FROM: %w", err)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(items, ", "))
	b.WriteString(" FROM ")
	b.WriteString(from)

	if q.Where != nil {
		where, err := c.compilePredicate(q.Where)
		if err != nil {
			return "", fmt.Errorf("compile WHERE: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(q.GroupBy) > 0 {
		groups := make([]string, len(q.GroupBy))
		for i, g := range q.GroupBy {
			expr, err := c.compileExpr(g)
			if err != nil {
				return "", fmt.Errorf("compile GROUP BY: %w", err)
			}
			groups[i] = expr
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(groups, ", "))
	}

	return b.String(), nil
}

// compileUnion joins branches with UNION ALL.
func (c *SQLCompiler) compileUnion(u *queryir.UnionAll) (string, error) {
	if u == nil || len(u.Branches) == 0 {
		return "", fmt.Errorf("union has no branches")
	}
	parts := make([]string, len(u.Branches))
	for i, branch := range u.Branches {
		sql, err := c.compileSelect(branch)
		if err != nil {
			return "", fmt.Errorf("union branch %d: %w", i, err)
		}
		parts[i] = sql
	}
	return strings.Join(parts, " UNION ALL "), nil
}

// compileProjection renders "expr AS alias", omitting redundant aliases.
// Example: t.person_id with alias person_id → "t.person_id"
func (c *SQLCompiler) compileProjection(p queryir.Projection) (string, error) {
	expr, err := c.compileExpr(p.Expr)
	if err != nil {
		return "", err
	}
	if p.Alias == "" {
		if _, ok := p.Expr.(queryir.Column); !ok {
			return "", fmt.Errorf("expression %s needs an alias", expr)
		}
		return expr, nil
	}
	if col, ok := p.Expr.(queryir.Column); ok && col.Name == p.Alias {
		return expr, nil
	}
	return expr + " AS " + quoteIdent(p.Alias), nil
}

// compileSource renders a FROM item.
func (c *SQLCompiler) compileSource(s queryir.Source) (string, error) {
	switch src := s.(type) {
	case *queryir.TableRef:
		ref, err := TablePath(src.Dataset, src.Table)
		if err != nil {
			return "", err
		}
		if src.Alias != "" {
			ref += " AS " + quoteIdent(src.Alias)
		}
		return ref, nil
	case *queryir.Subquery:
		if src.Alias == "" {
			return "", fmt.Errorf("subquery requires an alias")
		}
		inner, err := c.Compile(src.Query)
		if err != nil {
			return "", err
		}
		return "(" + inner + ") AS " + quoteIdent(src.Alias), nil
	case *queryir.Join:
		return c.compileJoin(src)
	case nil:
		return "", fmt.Errorf("missing source")
	default:
		return "", fmt.Errorf("unsupported source type: %T", s)
	}
}

// compileJoin renders "left KIND JOIN right ON predicate".
func (c *SQLCompiler) compileJoin(j *queryir.Join) (string, error) {
	if j.Kind != queryir.InnerJoin && j.Kind != queryir.LeftJoin {
		return "", fmt.Errorf("unsupported join kind %q", j.Kind)
	}
	if j.On == nil {
		return "", fmt.Errorf("join requires an ON predicate")
	}
	left, err := c.compileSource(j.Left)
	if err != nil {
		return "", fmt.Errorf("join left: %w", err)
	}
	right, err := c.compileSource(j.Right)
	if err != nil {
		return "", fmt.Errorf("join right: %w", err)
	}
	on, err := c.compilePredicate(j.On)
	if err != nil {
		return "", fmt.Errorf("join ON: %w", err)
	}
	return fmt.Sprintf("%s %s JOIN %s ON %s", left, j.Kind, right, on), nil
}

// compileExpr renders a scalar expression.
func (c *SQLCompiler) compileExpr(e queryir.Expr) (string, error) {
	switch expr := e.(type) {
	case queryir.Column:
		if expr.Name == "" {
			return "", fmt.Errorf("column without name")
		}
		if expr.Qualifier == "" {
			return quoteIdent(expr.Name), nil
		}
		return quoteIdent(expr.Qualifier) + "." + quoteIdent(expr.Name), nil
	case queryir.StringLit:
		return quoteString(string(expr)), nil
	case queryir.IntLit:
		return strconv.FormatInt(int64(expr), 10), nil
	case queryir.BoolLit:
		if expr {
			return "TRUE", nil
		}
		return "FALSE", nil
	case queryir.NullLit:
		return "NULL", nil
	case queryir.Keyword:
		if !functionName.MatchString(string(expr)) {
			return "", fmt.Errorf("invalid keyword %q", string(expr))
		}
		return string(expr), nil
	case queryir.Call:
		return c.compileCall(expr)
	case queryir.Cast:
		if !typeName.MatchString(expr.Type) {
			return "", fmt.Errorf("invalid cast type %q", expr.Type)
		}
		inner, err := c.compileExpr(expr.Expr)
		if err != nil {
			return "", err
		}
		fn := "CAST"
		if expr.Safe {
			fn = "SAFE_CAST"
		}
		return fmt.Sprintf("%s(%s AS %s)", fn, inner, expr.Type), nil
	case queryir.If:
		cond, err := c.compilePredicate(expr.Cond)
		if err != nil {
			return "", err
		}
		then, err := c.compileExpr(expr.Then)
		if err != nil {
			return "", err
		}
		els, err := c.compileExpr(expr.Else)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("IF(%s, %s, %s)", cond, then, els), nil
	case nil:
		return "", fmt.Errorf("missing expression")
	default:
		return "", fmt.Errorf("unsupported expression type: %T", e)
	}
}

func (c *SQLCompiler) compileCall(call queryir.Call) (string, error) {
	if !functionName.MatchString(call.Func) {
		return "", fmt.Errorf("invalid function name %q", call.Func)
	}
	args, err := c.compileExprs(call.Args)
	if err != nil {
		return "", fmt.Errorf("%s: %w", call.Func, err)
	}
	return call.Func + "(" + strings.Join(args, ", ") + ")", nil
}

func (c *SQLCompiler) compileExprs(exprs []queryir.Expr) ([]string, error) {
	out := make([]string, len(exprs))
	for i, e := range exprs {
		s, err := c.compileExpr(e)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// compilePredicate renders a boolean condition.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		left, err := c.compileExpr(pred.Left)
		if err != nil {
			return "", err
		}
		right, err := c.compileExpr(pred.Right)
		if err != nil {
			return "", err
		}
		return left + " = " + right, nil
	case queryir.In:
		return c.compileIn(pred)
	case queryir.IsNull:
		expr, err := c.compileExpr(pred.Expr)
		if err != nil {
			return "", err
		}
		if pred.Negate {
			return expr + " IS NOT NULL", nil
		}
		return expr + " IS NULL", nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "TRUE", nil // vacuous truth
		}
		parts, err := c.compilePredicates(pred.Predicates)
		if err != nil {
			return "", err
		}
		return strings.Join(parts, " AND "), nil
	case queryir.Or:
		if len(pred.Predicates) == 0 {
			return "FALSE", nil
		}
		parts, err := c.compilePredicates(pred.Predicates)
		if err != nil {
			return "", err
		}
		// Parenthesized so an OR never binds across a surrounding AND.
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case nil:
		return "", fmt.Errorf("missing predicate")
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compilePredicates(preds []queryir.Predicate) ([]string, error) {
	out := make([]string, len(preds))
	for i, p := range preds {
		s, err := c.compilePredicate(p)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// compileIn renders IN / NOT IN. An empty list renders as a constant so the
// statement stays valid: IN () → FALSE, NOT IN () → TRUE.
func (c *SQLCompiler) compileIn(in queryir.In) (string, error) {
	if len(in.Values) == 0 {
		if in.Negate {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	expr, err := c.compileExpr(in.Expr)
	if err != nil {
		return "", err
	}
	values, err := c.compileExprs(in.Values)
	if err != nil {
		return "", err
	}
	op := " IN ("
	if in.Negate {
		op = " NOT IN ("
	}
	return expr + op + strings.Join(values, ", ") + ")", nil
}
