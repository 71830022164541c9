// Package store provides the SQLite-backed plan registry.
//
// The registry is append-only:
//   - Runs: one row per batch run, keyed by a UUIDv7 run id
//   - Plans: one row per table compiled in a run, never updated
//   - Failures: one row per table that failed in a run, with its error kind
//
// # Invariants
//
// Append-only plans
//   - UNIQUE(run_id, dataset, table_name); a second insert is rejected
//     with ErrAlreadyRegistered rather than overwriting
//
// Logical ordering
//   - Every row carries an INTEGER seq assigned on insert; queries order by
//     seq, then by name, so reads are deterministic
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: 5-second lock wait
//   - foreign_keys=ON: Referential integrity between plans and runs
package store
