// Package memory provides in-process implementations of the storage
// contracts for tests and single-process runs.
package memory

import (
	"context"
	"iter"
	"sync"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

// Stream is an in-memory storage.Stream.
type Stream struct {
	mu       sync.RWMutex
	streams  map[string][]envelope.EventEnvelope
	versions map[string]map[identity.EntityID]uint64
	changed  chan struct{}
}

var _ storage.Stream = (*Stream)(nil)

// NewStream creates an empty stream store.
func NewStream() *Stream {
	return &Stream{
		streams:  make(map[string][]envelope.EventEnvelope),
		versions: make(map[string]map[identity.EntityID]uint64),
		changed:  make(chan struct{}),
	}
}

// Append implements storage.Stream.
func (s *Stream) Append(ctx context.Context, stream string, expectedVersion uint64, events []envelope.EventEnvelope) ([]envelope.EventEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateAppend(stream, events); err != nil {
		return nil, err
	}
	aggregateID := events[0].AggregateID

	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.versions[stream]
	if !ok {
		versions = make(map[identity.EntityID]uint64)
		s.versions[stream] = versions
	}
	if current := versions[aggregateID]; current != expectedVersion {
		return nil, &storage.ConcurrencyConflictError{
			Stream:      stream,
			AggregateID: aggregateID,
			Expected:    expectedVersion,
			Actual:      current,
		}
	}

	stored := storage.Stamp(events, expectedVersion, uint64(len(s.streams[stream]))+1)
	s.streams[stream] = append(s.streams[stream], stored...)
	versions[aggregateID] = stored[len(stored)-1].Version

	close(s.changed)
	s.changed = make(chan struct{})
	return append([]envelope.EventEnvelope(nil), stored...), nil
}

// ReadAggregate implements storage.Stream.
func (s *Stream) ReadAggregate(ctx context.Context, stream string, aggregateID identity.EntityID, afterVersion uint64) ([]envelope.EventEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []envelope.EventEnvelope
	for _, evt := range s.streams[stream] {
		if evt.AggregateID == aggregateID && evt.Version > afterVersion {
			out = append(out, evt)
		}
	}
	return out, nil
}

// Read implements storage.Stream.
func (s *Stream) Read(ctx context.Context, stream string, from uint64, limit int) ([]envelope.EventEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.streams[stream]
	start := max(from, 1) - 1
	if start >= uint64(len(events)) {
		return nil, nil
	}
	end := uint64(len(events))
	if limit > 0 && start+uint64(limit) < end {
		end = start + uint64(limit)
	}
	return append([]envelope.EventEnvelope(nil), events[start:end]...), nil
}

// Subscribe implements storage.Stream.
func (s *Stream) Subscribe(ctx context.Context, stream string, from uint64) iter.Seq2[envelope.EventEnvelope, error] {
	var waitOn chan struct{}
	read := func(ctx context.Context, from uint64, limit int) ([]envelope.EventEnvelope, error) {
		// Capture the change signal before reading so an append between the
		// read and the wait still wakes the subscriber.
		s.mu.RLock()
		waitOn = s.changed
		s.mu.RUnlock()
		return s.Read(ctx, stream, from, limit)
	}
	wait := func(ctx context.Context) error {
		select {
		case <-waitOn:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return storage.Follow(ctx, from, read, wait)
}
