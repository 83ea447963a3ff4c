// Package engine executes commands against event-sourced aggregates.
//
// A Handler loads an aggregate from its snapshot and stream tail, runs one
// Mealy step, wraps the emitted events in envelopes caused by the command,
// and appends them with the loaded version as the expected version. The
// append is the commit point: content-store writes happen before it and
// ledger and snapshot writes after it, so a crash leaves at worst an
// unreferenced blob or a stale snapshot, never a missing event.
package engine
