// Package store provides SQLite-backed durable storage for sensor poke logs.
//
// The store is an append-only audit log with:
//   - Runs: one row per sensor run (bucket, prefix, mode, final outcome)
//   - Pokes: one row per poke cycle (key count, inactivity, outcome)
//
// The log is never used to restore tracker state. A restarted sensor starts
// from a fresh baseline; the log only answers "what happened".
//
// # Ordering
//
// Pokes are ordered by (run_id, seq), where seq is assigned by the runner and
// starts at 1 for each run. Runs are listed newest first by started_at, then
// by id for a stable order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
