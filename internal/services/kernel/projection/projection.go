// Package projection builds read models from appended events.
//
// A Runner delivers one stream's events to a projection in append order and
// records the last applied sequence in a checkpoint store. Events at or
// below the checkpoint are skipped, so a restarted runner never applies an
// event twice.
package projection

import (
	"context"
	"errors"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
)

var (
	// ErrStreamRequired indicates a runner without a stream.
	ErrStreamRequired = errors.New("projection: stream is required")
	// ErrCheckpointsRequired indicates a runner without a checkpoint store.
	ErrCheckpointsRequired = errors.New("projection: checkpoint store is required")
	// ErrProjectionRequired indicates a nil projection.
	ErrProjectionRequired = errors.New("projection: projection is required")
	// ErrStreamNameRequired indicates a rebuild with no streams to replay.
	ErrStreamNameRequired = errors.New("projection: at least one stream name is required")
)

// Projection is a read model fed by events.
type Projection interface {
	// Name keys the projection's checkpoints.
	Name() string
	// HandleEvent applies one event. Payloads are inline.
	HandleEvent(ctx context.Context, evt envelope.EventEnvelope) error
	// Clear drops all read-model state.
	Clear(ctx context.Context) error
}

// Binding pairs a projection with the stream that feeds it.
type Binding struct {
	Projection Projection
	Stream     string
}
