// Package storage provides journal storage backends.
//
// SQLiteStorage is the production backend. It works with either the cgo
// driver (github.com/mattn/go-sqlite3, registered as "sqlite3") or the pure
// Go driver (modernc.org/sqlite, registered as "sqlite"), selected through
// configuration. Timestamps are stored as Unix nanoseconds so that ordering
// and range filters behave the same under both drivers.
//
// MemoryStorage keeps records in a map and is meant for tests and for
// deployments that only want the journal for the process lifetime.
package storage
