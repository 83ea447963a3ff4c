package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrConcurrencyConflict matches any *ConcurrencyConflictError with errors.Is.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ConcurrencyConflictError reports an append against a stale version. The
// caller must reload the aggregate and retry.
type ConcurrencyConflictError struct {
	Stream      string
	AggregateID identity.EntityID
	Expected    uint64
	Actual      uint64
}

// Error implements error.
func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("stream %s aggregate %s: expected version %d, found %d", e.Stream, e.AggregateID, e.Expected, e.Actual)
}

// ErrorCode classifies the error.
func (e *ConcurrencyConflictError) ErrorCode() apperrors.Code {
	return apperrors.CodeConcurrencyConflict
}

// Is matches ErrConcurrencyConflict.
func (e *ConcurrencyConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// AppendFailed wraps an infrastructure failure during append.
func AppendFailed(stream string, cause error) error {
	return apperrors.Wrap(apperrors.CodeStreamAppendFailed, fmt.Sprintf("append to stream %s: %v", stream, cause), cause)
}

// Stream is an append-only event log.
//
// Append stores events for one aggregate atomically when the aggregate's
// current version equals expectedVersion. It assigns each event its
// aggregate Version (expectedVersion+1, +2, ...) and a stream-wide Sequence
// starting at 1, and returns the stored envelopes.
//
// Subscribe yields events with Sequence >= from in append order, waiting for
// new events until ctx is done. It ends by yielding ctx's error. Delivery is
// at least once; consumers skip sequences they have already applied.
type Stream interface {
	Append(ctx context.Context, stream string, expectedVersion uint64, events []envelope.EventEnvelope) ([]envelope.EventEnvelope, error)
	ReadAggregate(ctx context.Context, stream string, aggregateID identity.EntityID, afterVersion uint64) ([]envelope.EventEnvelope, error)
	Read(ctx context.Context, stream string, from uint64, limit int) ([]envelope.EventEnvelope, error)
	Subscribe(ctx context.Context, stream string, from uint64) iter.Seq2[envelope.EventEnvelope, error]
}

// Snapshot is the persisted state of one aggregate at a version.
type Snapshot struct {
	AggregateType string
	AggregateID   identity.EntityID
	Version       uint64
	State         json.RawMessage
	UpdatedAt     time.Time
}

// AggregateStore keeps the newest snapshot per aggregate. Saving a snapshot
// older than the stored one is a no-op.
type AggregateStore interface {
	LoadSnapshot(ctx context.Context, aggregateType string, id identity.EntityID) (Snapshot, error)
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
}

// ContentStore holds payload bytes by content address.
type ContentStore interface {
	Put(ctx context.Context, addr address.Address, data []byte) error
	Get(ctx context.Context, addr address.Address) ([]byte, error)
}

// Checkpoint records the last stream sequence a projection applied.
type Checkpoint struct {
	Projection string
	Stream     string
	Sequence   uint64
	UpdatedAt  time.Time
}

// CheckpointStore persists projection progress. Get returns a zero
// checkpoint and no error when none is stored.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, projection, stream string) (Checkpoint, error)
	SaveCheckpoint(ctx context.Context, checkpoint Checkpoint) error
}

// ValidateAppend checks an append batch before it reaches a backend.
func ValidateAppend(stream string, events []envelope.EventEnvelope) error {
	if stream == "" {
		return apperrors.New(apperrors.CodeEnvelopeInvalid, "stream name is required")
	}
	if len(events) == 0 {
		return apperrors.New(apperrors.CodeEnvelopeInvalid, "no events to append")
	}
	first := events[0].AggregateID
	for _, evt := range events {
		if err := evt.Validate(); err != nil {
			return err
		}
		if evt.AggregateID != first {
			return apperrors.New(apperrors.CodeEnvelopeInvalid, "append batch spans aggregates")
		}
	}
	return nil
}

// Stamp assigns versions and sequences to a validated batch.
func Stamp(events []envelope.EventEnvelope, expectedVersion, nextSequence uint64) []envelope.EventEnvelope {
	out := make([]envelope.EventEnvelope, len(events))
	for i, evt := range events {
		evt.Version = expectedVersion + uint64(i) + 1
		evt.Sequence = nextSequence + uint64(i)
		out[i] = evt
	}
	return out
}
