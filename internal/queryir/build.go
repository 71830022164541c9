package queryir

// Col returns a qualified column reference.
func Col(qualifier, name string) Column {
	return Column{Qualifier: qualifier, Name: name}
}

// As returns a projection of expr under the given output name.
func As(expr Expr, alias string) Projection {
	return Projection{Expr: expr, Alias: alias}
}

// Columns projects the named fields of one source alias, in order.
func Columns(qualifier string, names []string) []Projection {
	out := make([]Projection, len(names))
	for i, n := range names {
		out[i] = Projection{Expr: Col(qualifier, n)}
	}
	return out
}

// Strings converts string values to literal expressions.
func Strings(values []string) []Expr {
	out := make([]Expr, len(values))
	for i, v := range values {
		out[i] = StringLit(v)
	}
	return out
}

// Ints converts integer values to literal expressions.
func Ints(values []int64) []Expr {
	out := make([]Expr, len(values))
	for i, v := range values {
		out[i] = IntLit(v)
	}
	return out
}

// DateDiffDays is DATE_DIFF(SAFE_CAST(value AS DATE), SAFE_CAST(anchor AS DATE), DAY):
// the signed number of days from anchor to value. Unparseable inputs yield NULL.
func DateDiffDays(value, anchor Expr) Expr {
	return Call{
		Func: "DATE_DIFF",
		Args: []Expr{
			Cast{Expr: value, Type: "DATE", Safe: true},
			Cast{Expr: anchor, Type: "DATE", Safe: true},
			Keyword("DAY"),
		},
	}
}

// EqualsAll joins column pairs left.k = right.k for every key.
func EqualsAll(left, right string, keys []string) Predicate {
	preds := make([]Predicate, len(keys))
	for i, k := range keys {
		preds[i] = Equals{Left: Col(left, k), Right: Col(right, k)}
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return And{Predicates: preds}
}
