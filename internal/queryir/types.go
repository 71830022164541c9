package queryir

// Query represents a complete query producing named output columns.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Source represents a FROM-clause item.
type Source interface {
	sourceNode()
}

// Expr represents a scalar expression.
type Expr interface {
	exprNode()
}

// Predicate represents a boolean condition used in WHERE, ON and IF.
type Predicate interface {
	predicateNode()
}

// Projection is one SELECT-list item.
//
// Alias names the output column. When Alias is empty the output name is the
// column name of a Column expression; other expressions require an alias.
type Projection struct {
	Expr  Expr
	Alias string
}

// OutputName returns the name under which the projection is exposed.
func (p Projection) OutputName() string {
	if p.Alias != "" {
		return p.Alias
	}
	if c, ok := p.Expr.(Column); ok {
		return c.Name
	}
	return ""
}

// Select represents a single SELECT statement.
//
// Semantics:
//
//	SELECT <projection> FROM <from> WHERE <where> GROUP BY <group_by>
type Select struct {
	Projection []Projection
	From       Source
	Where      Predicate // nil = no filter
	GroupBy    []Expr    // empty = no grouping
}

func (*Select) queryNode() {}

// OutputNames returns the output column names in projection order.
func (s *Select) OutputNames() []string {
	names := make([]string, len(s.Projection))
	for i, p := range s.Projection {
		names[i] = p.OutputName()
	}
	return names
}

// UnionAll concatenates the rows of its branches.
//
// Semantics:
//
//	<branch1> UNION ALL <branch2> UNION ALL ...
//
// All branches must expose identical output names in identical order.
type UnionAll struct {
	Branches []*Select
}

func (*UnionAll) queryNode() {}

// OutputNames returns the output names of a query. For a union these are the
// names of its first branch.
func OutputNames(q Query) []string {
	switch query := q.(type) {
	case *Select:
		return query.OutputNames()
	case *UnionAll:
		if len(query.Branches) == 0 {
			return nil
		}
		return query.Branches[0].OutputNames()
	default:
		return nil
	}
}

// TableRef references a warehouse table.
type TableRef struct {
	Dataset string
	Table   string
	Alias   string
}

func (*TableRef) sourceNode() {}

// Subquery uses a nested query as a FROM item. Alias is required.
type Subquery struct {
	Query Query
	Alias string
}

func (*Subquery) sourceNode() {}

// JoinKind selects the join semantics.
type JoinKind string

const (
	// InnerJoin keeps only matching row pairs.
	InnerJoin JoinKind = "INNER"

	// LeftJoin keeps every left row, with NULLs when the right side has no match.
	LeftJoin JoinKind = "LEFT"
)

// Join combines two sources. On is required; there are no cross joins.
type Join struct {
	Kind  JoinKind
	Left  Source
	Right Source
	On    Predicate
}

func (*Join) sourceNode() {}

// Column references a column, optionally qualified by a source alias.
type Column struct {
	Qualifier string
	Name      string
}

func (Column) exprNode() {}

// StringLit is a string literal.
type StringLit string

func (StringLit) exprNode() {}

// IntLit is an INT64 literal.
type IntLit int64

func (IntLit) exprNode() {}

// BoolLit is a boolean literal.
type BoolLit bool

func (BoolLit) exprNode() {}

// NullLit is the NULL literal.
type NullLit struct{}

func (NullLit) exprNode() {}

// Keyword is a bare keyword argument such as the DAY date part.
type Keyword string

func (Keyword) exprNode() {}

// Call is a function call, e.g. DATE_DIFF(a, b, DAY) or MAX(x).
type Call struct {
	Func string
	Args []Expr
}

func (Call) exprNode() {}

// Cast converts an expression to another type. Safe casts yield NULL
// instead of failing on malformed input.
type Cast struct {
	Expr Expr
	Type string
	Safe bool
}

func (Cast) exprNode() {}

// If evaluates to Then when Cond holds and to Else otherwise.
type If struct {
	Cond Predicate
	Then Expr
	Else Expr
}

func (If) exprNode() {}

// Equals compares two expressions.
type Equals struct {
	Left  Expr
	Right Expr
}

func (Equals) predicateNode() {}

// In tests membership of Expr in a literal list.
//
// An empty list is valid: IN () is false and NOT IN () is true.
type In struct {
	Expr   Expr
	Values []Expr
	Negate bool
}

func (In) predicateNode() {}

// IsNull tests an expression for NULL.
type IsNull struct {
	Expr   Expr
	Negate bool
}

func (IsNull) predicateNode() {}

// And is a conjunction; empty means always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or is a disjunction; empty means always false.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}
