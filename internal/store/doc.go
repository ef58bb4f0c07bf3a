// Package store provides SQLite-backed durable storage for offsync.
//
// The store holds independent collections with independent lifecycles:
//   - cache_entries: TTL cache records (schema v1)
//   - queue_items: offline mutation queue (schema v2)
//   - meta, leases: cross-context state such as last sync time and the
//     drain lease (schema v3)
//
// # Schema Versioning
//
// The schema version lives in PRAGMA user_version. Opening at a newer version
// than stored applies the missing migrations in order and never drops an
// existing table. Opening at an older version than stored, or at a version
// this binary does not know, fails with ErrIncompatibleSchema.
//
// # Transactions
//
// Every mutating method runs inside its own transaction scoped to the
// collection it touches. A crash mid-write leaves the previous row intact.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers during a write
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks held by other processes
//   - single connection: writes are serialised in-process
//
// Timestamps are stored as Unix milliseconds.
package store
