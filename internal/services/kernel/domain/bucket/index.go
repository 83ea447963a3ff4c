package bucket

import (
	"errors"
	"fmt"
	"sync"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
)

var (
	// ErrAddressNotTracked indicates a move for an address the index has not seen.
	ErrAddressNotTracked = errors.New("address is not tracked")
	// ErrMoveSourceMismatch indicates a move from a bucket the address is not in.
	ErrMoveSourceMismatch = errors.New("address is not in the source bucket")
	// ErrAddressInOtherBucket indicates an address tracked in one bucket being
	// recorded in another. Only Move changes an address's bucket.
	ErrAddressInOtherBucket = errors.New("address is tracked in another bucket")
)

// MoveHistoryEntry records one move of an address between buckets.
type MoveHistoryEntry struct {
	At   identity.MessageID `json:"at"`
	From string             `json:"from"`
	To   string             `json:"to"`
}

// IndexEntry tracks where an address currently lives.
type IndexEntry struct {
	Address       address.Address    `json:"address"`
	CurrentBucket string             `json:"current_bucket"`
	Parent        address.Address    `json:"parent"`
	Sequence      uint64             `json:"sequence"`
	MoveHistory   []MoveHistoryEntry `json:"move_history,omitempty"`
}

// RecordMove returns entry moved to another bucket by the event at. History
// is only ever appended; entry itself is not modified.
func RecordMove(entry IndexEntry, at identity.MessageID, from, to string) IndexEntry {
	history := make([]MoveHistoryEntry, len(entry.MoveHistory), len(entry.MoveHistory)+1)
	copy(history, entry.MoveHistory)
	entry.MoveHistory = append(history, MoveHistoryEntry{At: at, From: from, To: to})
	entry.CurrentBucket = to
	return entry
}

// Index maps addresses to their index entries. It is safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	entries map[address.Address]IndexEntry
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[address.Address]IndexEntry)}
}

// Track records a freshly appended entry. Tracking an address again in the
// same bucket keeps its history and updates its position; an address already
// living in another bucket is refused and left untouched.
func (x *Index) Track(entry Entry) (IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	current, ok := x.entries[entry.Address]
	if !ok {
		current = IndexEntry{Address: entry.Address}
	} else if current.CurrentBucket != entry.Bucket {
		return current, fmt.Errorf("track %s in %s: %w (in %s)", entry.Address, entry.Bucket, ErrAddressInOtherBucket, current.CurrentBucket)
	}
	current.CurrentBucket = entry.Bucket
	current.Parent = entry.Previous
	current.Sequence = entry.Sequence
	x.entries[entry.Address] = current
	return current, nil
}

// placeable reports whether addr may be appended to bucket.
func (x *Index) placeable(addr address.Address, bucket string) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if current, ok := x.entries[addr]; ok && current.CurrentBucket != bucket {
		return fmt.Errorf("record %s in %s: %w (in %s)", addr, bucket, ErrAddressInOtherBucket, current.CurrentBucket)
	}
	return nil
}

// Move relocates a tracked address.
func (x *Index) Move(addr address.Address, at identity.MessageID, from, to string) (IndexEntry, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	current, ok := x.entries[addr]
	if !ok {
		return IndexEntry{}, fmt.Errorf("move %s: %w", addr, ErrAddressNotTracked)
	}
	if current.CurrentBucket != from {
		return IndexEntry{}, fmt.Errorf("move %s from %s: %w", addr, from, ErrMoveSourceMismatch)
	}
	moved := RecordMove(current, at, from, to)
	x.entries[addr] = moved
	return moved, nil
}

// Lookup returns the index entry for addr.
func (x *Index) Lookup(addr address.Address) (IndexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	entry, ok := x.entries[addr]
	return entry, ok
}
