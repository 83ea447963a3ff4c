package storage

import (
	"context"
	"iter"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
)

// followPage bounds each read a Follow subscription makes.
const followPage = 256

// ReadFunc reads up to limit events with Sequence >= from.
type ReadFunc func(ctx context.Context, from uint64, limit int) ([]envelope.EventEnvelope, error)

// WaitFunc blocks until new events may be available or ctx is done.
type WaitFunc func(ctx context.Context) error

// Follow turns a paged reader into a subscription. It reads until caught up,
// then waits and reads again.
func Follow(ctx context.Context, from uint64, read ReadFunc, wait WaitFunc) iter.Seq2[envelope.EventEnvelope, error] {
	return func(yield func(envelope.EventEnvelope, error) bool) {
		next := max(from, 1)
		for {
			if err := ctx.Err(); err != nil {
				yield(envelope.EventEnvelope{}, err)
				return
			}
			batch, err := read(ctx, next, followPage)
			if err != nil {
				yield(envelope.EventEnvelope{}, err)
				return
			}
			for _, evt := range batch {
				if !yield(evt, nil) {
					return
				}
				next = evt.Sequence + 1
			}
			if len(batch) == followPage {
				continue
			}
			if err := wait(ctx); err != nil {
				yield(envelope.EventEnvelope{}, err)
				return
			}
		}
	}
}
