// Package queryir provides the structured query representation that
// de-identification plans are built from.
//
// Policies never concatenate SQL text. They build queryir values, the plan
// compiler composes them, and a backend (internal/querysql) renders the
// result. Composition invariants are checked on the structure itself by
// Validate, before anything is rendered:
//
//	[policies] → [fragments] → [compiler: compose] → [Query IR] → [Validate] → [SQL text]
//
// NODE FAMILIES:
//
//   - Query: Select, UnionAll
//   - Source: TableRef, Subquery, Join (INNER or LEFT)
//   - Expr: Column, StringLit, IntLit, BoolLit, NullLit, Keyword, Call, Cast, If
//   - Predicate: Equals, In, IsNull, And, Or
//
// SEALED INTERFACES:
//
// Query, Source, Expr and Predicate are sealed interfaces using the marker
// method pattern. Only types in this package can implement them, which keeps
// type switches in backends exhaustive:
//
//	switch q := query.(type) {
//	case *Select:
//	    // Handle select
//	case *UnionAll:
//	    // Handle union
//	default:
//	    // Impossible - compiler knows all Query types
//	}
//
// Query and Source nodes are used as pointers; Expr and Predicate nodes are
// small values.
//
// CRITICAL PATTERNS:
//
// Output alignment: every branch of a UnionAll must expose the same number
// of output columns with the same names in the same order. Validate reports
// any violation; the compiler turns it into a compose error so that a plan
// with mismatched branches is never produced.
//
// Unique outputs: a Select never exposes the same output name twice.
package queryir
