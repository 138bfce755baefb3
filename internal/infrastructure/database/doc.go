// Package database provides the SQLite connection used by the event
// journal, with WAL mode, busy-timeout handling, and embedded schema
// migrations.
//
// SQLite fits the journal's profile: a single writer (the engine's apply
// loop), concurrent readers (the API), and no external service to
// operate. The connection pool is pinned to one open connection to match
// SQLite's single-writer model.
//
// Migrations are .sql files embedded into the binary by the migrations
// package and applied in filename order, each in its own transaction.
package database
