// Package store provides SQLite-backed local history for surrealkit.
//
// The store keeps three append-only tables:
//   - runs: one row per test run with suite and case counts
//   - case_results: one row per executed case, ordered by seq within a run
//   - reconcile_events: sync, migrate and commit outcomes plus every
//     prune guard override
//
// History is local to the working copy (database/.surrealkit/history.db)
// and is never consulted to make reconciliation decisions. The migration
// ledger inside the target database remains the source of truth.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Row ids are TypeIDs (run_..., evt_...) so history sorts by creation time.
package store
