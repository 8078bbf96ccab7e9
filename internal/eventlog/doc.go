// Package eventlog defines the persistence boundary of an event-sourced machine.
//
// A machine appends every event it emits through an Adapter and rebuilds its
// state on start by draining a Feed. The same backing store usually provides
// both, together with a Compactor that bounds how much history a Feed yields.
//
// # Ordering
//
//   - Offsets are assigned by the store, strictly increasing, never reused
//   - A Feed yields compacted records first, then the log tail by offset
//   - Compacted records are yielded in offset order so two Feeds are identical
//
// # Compaction
//
// Compact(w) keeps, for every key whose newest log record is at or below w,
// exactly that record in the compacted set, then drops every log record at or
// below w. Keys with a newer record above w simply lose their older records.
// Replaying a compacted store therefore reaches the same final state as
// replaying the full history, provided the application's events for a key are
// superseding (the latest event for a key carries everything replay needs).
//
// Levels automates this: once the tail grows past High records the store
// compacts down to the Low newest.
//
// Keys pass through NormalizeKey so canonically equal strings (NFC) share a
// compaction slot.
package eventlog
