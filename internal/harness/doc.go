// Package harness runs conformance scenarios against the plan compiler.
//
// A scenario compiles tables of the fixture OMOP dataset (see testutil) as
// one registered batch, then checks the outcome three ways: each flow step's
// expect clause, the scenario's assertions, and a fixed set of properties
// every plan must satisfy: no duplicate fields, no more fields than columns,
// aligned UNION ALL branches, generalized category fields with one union
// branch per category on a meta-table, exact passthrough and identical plans
// on recompilation.
//
// # Scenario Format
//
//	name: person_generalized
//	description: "What this scenario validates"
//	options:
//	  physical_dates: drop
//	catalog:
//	  without: [GenderIdentity_Man]
//	flow:
//	  - compile: person
//	    expect:
//	      case: Plan
//	      policies: [suppress, generalize]
//	assertions:
//	  - type: fields_absent
//	    table: person
//	    fields: [birth_datetime]
//	  - type: sql_contains
//	    table: person
//	    text: "IF(t.race_concept_id IN"
//	  - type: registered
//	    plans: 1
//
// # Assertion Types
//
//   - fields_absent, fields_present: output field membership
//   - sql_contains, sql_not_contains: SQL text fragments
//   - registered: plan and failure counts in the registry
//
// # Golden Files
//
// RunWithGolden compares the compiled SQL of every flow step against
// testdata/golden/<name>.golden. Regenerate with -update.
package harness
