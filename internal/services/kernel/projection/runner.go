package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/aggkernel/internal/platform/logging"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

const defaultPageSize = 200

// Runner feeds projections from streams.
type Runner struct {
	Stream      storage.Stream
	Checkpoints storage.CheckpointStore
	// Content resolves addressed payloads. Optional when every payload is inline.
	Content  storage.ContentStore
	PageSize int
	Now      func() time.Time
	Logger   *zap.Logger
}

// Result reports a catch-up pass.
type Result struct {
	LastSequence uint64
	Applied      int
}

// CatchUp applies every event after the projection's checkpoint and returns
// once the stream is exhausted.
func (r *Runner) CatchUp(ctx context.Context, p Projection, stream string) (Result, error) {
	if err := r.validate(p); err != nil {
		return Result{}, err
	}
	cp, err := r.Checkpoints.GetCheckpoint(ctx, p.Name(), stream)
	if err != nil {
		return Result{}, fmt.Errorf("load checkpoint %s/%s: %w", p.Name(), stream, err)
	}
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	result := Result{LastSequence: cp.Sequence}
	for {
		events, err := r.Stream.Read(ctx, stream, result.LastSequence+1, pageSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}
		for _, evt := range events {
			if err := r.apply(ctx, p, stream, result.LastSequence, evt); err != nil {
				return result, err
			}
			result.LastSequence = evt.Sequence
			result.Applied++
		}
	}
}

// Run applies events from the checkpoint on and keeps following the stream
// until ctx is done. Cancellation is not an error.
func (r *Runner) Run(ctx context.Context, p Projection, stream string) error {
	if err := r.validate(p); err != nil {
		return err
	}
	cp, err := r.Checkpoints.GetCheckpoint(ctx, p.Name(), stream)
	if err != nil {
		return fmt.Errorf("load checkpoint %s/%s: %w", p.Name(), stream, err)
	}
	last := cp.Sequence
	for evt, err := range r.Stream.Subscribe(ctx, stream, last+1) {
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if evt.Sequence <= last {
			continue
		}
		if err := r.apply(ctx, p, stream, last, evt); err != nil {
			return err
		}
		last = evt.Sequence
	}
	return nil
}

// RunAll runs every binding concurrently. The first failure cancels the rest.
func (r *Runner) RunAll(ctx context.Context, bindings ...Binding) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, b := range bindings {
		g.Go(func() error {
			return r.Run(ctx, b.Projection, b.Stream)
		})
	}
	return g.Wait()
}

// Rebuild clears the projection once, resets its checkpoint on every stream
// and catches up each stream in order. A projection fed by several streams
// must be rebuilt in a single call so later streams do not discard what
// earlier ones applied.
func (r *Runner) Rebuild(ctx context.Context, p Projection, streams ...string) (map[string]Result, error) {
	if err := r.validate(p); err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, ErrStreamNameRequired
	}
	if err := p.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear %s: %w", p.Name(), err)
	}
	for _, stream := range streams {
		if err := r.save(ctx, p, stream, 0); err != nil {
			return nil, err
		}
	}
	results := make(map[string]Result, len(streams))
	for _, stream := range streams {
		result, err := r.CatchUp(ctx, p, stream)
		results[stream] = result
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// apply hands evt to p and advances the checkpoint. Sequences must follow
// last without gaps.
func (r *Runner) apply(ctx context.Context, p Projection, stream string, last uint64, evt envelope.EventEnvelope) error {
	if evt.Sequence != last+1 {
		return fmt.Errorf("%s: event sequence gap: expected %d got %d", stream, last+1, evt.Sequence)
	}
	resolved, err := storage.Inline(ctx, r.Content, evt)
	if err != nil {
		return err
	}
	if err := p.HandleEvent(ctx, resolved); err != nil {
		logging.OrNop(r.Logger).Warn("projection apply failed",
			zap.String("projection", p.Name()),
			zap.String("stream", stream),
			zap.Uint64("sequence", evt.Sequence),
			zap.String("event_type", evt.EventType()),
			zap.Error(err),
		)
		return fmt.Errorf("%s apply %s at %d: %w", p.Name(), evt.EventType(), evt.Sequence, err)
	}
	return r.save(ctx, p, stream, evt.Sequence)
}

func (r *Runner) save(ctx context.Context, p Projection, stream string, seq uint64) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.Checkpoints.SaveCheckpoint(ctx, storage.Checkpoint{
		Projection: p.Name(),
		Stream:     stream,
		Sequence:   seq,
		UpdatedAt:  now().UTC(),
	})
}

func (r *Runner) validate(p Projection) error {
	switch {
	case r.Stream == nil:
		return ErrStreamRequired
	case r.Checkpoints == nil:
		return ErrCheckpointsRequired
	case p == nil:
		return ErrProjectionRequired
	}
	return nil
}
