// Package storage defines the persistence contracts the kernel consumes.
//
// The Stream is the source of truth: an append-only log of event envelopes
// per stream name with optimistic per-aggregate versions. Snapshots, content
// blobs, and projection checkpoints are derived data that can be rebuilt
// from it. Implementations live in subpackages (memory, sqlite, jetstream,
// pebble, redis).
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - *ConcurrencyConflictError: stale expected version on append
package storage
