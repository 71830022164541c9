// Package policy implements the de-identification policies and the query
// fragments they contribute to a table's plan.
//
// There are exactly three policies, always evaluated in this order:
//
//	Suppress   - drops date-like and always-drop columns; filters date and
//	             category rows out of the meta-table (Base fragment)
//	Shift      - replaces dates with day offsets from a per-subject anchor
//	             (Join fragment for physical columns, Union fragment for
//	             encoded date rows)
//	Generalize - coarsens the seven categories (substitutions for physical
//	             columns, one Union fragment per category for the meta-table)
//
// Policies never perform I/O. Everything they need (schema, resolved
// categories, date concept codes) is gathered into a Target beforehand, so
// Compile is a pure function of its input.
package policy
