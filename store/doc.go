// Package store provides the persistence backends for the task board.
//
// Two implementations are available: MemoryStore, a mutex-guarded map
// suitable for tests and single-process deployments, and SQLiteStore,
// which persists tasks and API keys to a SQLite database file.
//
// Both back the same contract: board.Store for tasks and auth.KeyStore
// for API keys. The load-bearing operation is UpdateWhere, a conditional
// write that applies a patch only while the task's status still equals
// the caller's expectation. That compare-and-set is the board's only
// mutual exclusion, so both backends perform the check and the write
// atomically: under one lock in memory, in one UPDATE statement in SQLite.
package store
