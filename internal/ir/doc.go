// Package ir provides the shared domain types of the de-identification
// compiler: table and column descriptors read from the warehouse, concept
// rows read from the vocabulary catalog, catalog filter specifications, and
// canonical JSON / hashing helpers used to fingerprint compiled plans.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Identity keys are structured values (TableKey), never concatenated strings
//   - Descriptors are treated as immutable once returned by a provider
//   - All JSON tags use snake_case
package ir
