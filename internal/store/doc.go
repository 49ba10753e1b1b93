// Package store persists sessions and delivery tasks in SQLite and exposes
// helpers for driving their lifecycle.
//
// The Store manages database connections, schema migration, and the two
// tables at the heart of the delivery guarantee: sessions (the local ledger
// of one recording's lifecycle) and delivery_tasks (the outbox of chunks
// awaiting transport). Tasks carry retry counts and next-eligible timestamps
// so backoff state survives a process restart; sessions carry chunk counters
// and mirrored processing results.
//
// Treat this package as the single source of truth for persistence
// semantics; higher layers (session.Machine, outbox.Queue) own which rows
// they may mutate, and new columns go through migrations/.
package store
