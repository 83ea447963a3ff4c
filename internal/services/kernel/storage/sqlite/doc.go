// Package sqlite provides a SQLite-backed event stream, snapshot store, and
// checkpoint store.
//
// One database file holds every stream. Appends run in a transaction that
// checks the aggregate's current version, so the version check and the
// insert commit together; a unique (stream, aggregate, version) index turns
// a lost race between two writers into a concurrency conflict instead of a
// fork. Subscriptions poll, paced by a rate limiter.
package sqlite
