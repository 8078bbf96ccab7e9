// Package store provides SQLite-backed durable storage for event logs.
//
// The store holds two tables:
//   - log: the append-only tail, one row per event, seq assigned by SQLite
//   - compacted: the newest record per key at or below the last watermark
//
// # Critical Patterns
//
// Single writer
//   - One connection (SetMaxOpenConns(1)); appends and compactions serialize
//   - Compaction runs in one transaction, so a crash leaves either the old or
//     the new shape, never a mix
//
// Logical order
//   - All ordering uses seq INTEGER, never timestamps
//   - Offsets come from AUTOINCREMENT and are never reused
//   - All reads use ORDER BY seq ASC so two feeds are identical
//
// Paged reads
//   - Records reads in pages keyed by seq, holding no connection between
//     pages, so a consumer may append while iterating
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL by default: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// NewLog wraps a Store with an event codec to provide an eventlog.Log.
package store
