package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/louisbranch/aggkernel/internal/platform/logging"
	platformotel "github.com/louisbranch/aggkernel/internal/platform/otel"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/bucket"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

var (
	// ErrModelRequired indicates a handler without an aggregate model.
	ErrModelRequired = errors.New("aggregate model is required")
	// ErrStreamRequired indicates a handler without an event stream.
	ErrStreamRequired = errors.New("event stream is required")
	// ErrGeneratorRequired indicates a handler without an id generator.
	ErrGeneratorRequired = errors.New("id generator is required")
)

const eventSchemaVersion = "1"

var tracer = platformotel.Tracer("aggkernel/engine")

// Event is implemented by aggregate event payloads.
type Event interface {
	EventType() string
}

// Handler runs commands for one aggregate type.
type Handler[S mealy.State, I any, E Event] struct {
	Model  mealy.Model[S, I, E]
	Stream storage.Stream
	IDs    identity.Generator
	// StreamName defaults to the model name.
	StreamName string
	// Snapshots, when set, caches aggregate state after each command.
	Snapshots storage.AggregateStore
	// Content, when set, receives every payload, and events are stored with
	// their payload address instead of inline.
	Content storage.ContentStore
	// Ledger, when set, records each event address in the aggregate's bucket.
	Ledger *bucket.Ledger
	// Source is written to event metadata.
	Source string
	Now    func() time.Time
	Logger *zap.Logger
}

// Result is the outcome of one command.
type Result[S mealy.State] struct {
	Ack       envelope.CommandAck
	Aggregate mealy.Aggregate[S]
	Events    []envelope.EventEnvelope
}

// HandleOption adjusts a single Handle call.
type HandleOption func(*handleOptions)

type handleOptions struct {
	expectVersion *uint64
}

// ExpectVersion rejects the command with a concurrency conflict unless the
// loaded aggregate is at version.
func ExpectVersion(version uint64) HandleOption {
	return func(o *handleOptions) {
		o.expectVersion = &version
	}
}

// Handle applies cmd to aggregate id.
//
// A business-rule rejection returns a rejected ack, the unchanged aggregate,
// and the *mealy.DomainError. Infrastructure failures return a zero Result.
func (h *Handler[S, I, E]) Handle(ctx context.Context, id identity.EntityID, cmd envelope.CommandEnvelope[I], opts ...HandleOption) (Result[S], error) {
	if err := h.validate(); err != nil {
		return Result[S]{}, err
	}
	if err := cmd.Validate(); err != nil {
		return Result[S]{}, err
	}
	var options handleOptions
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := tracer.Start(ctx, h.Model.Name()+".handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("aggregate.type", h.Model.Name()),
		attribute.String("aggregate.id", id.String()),
		attribute.String("command.id", cmd.Identity.MessageID.String()),
		attribute.String("correlation.id", cmd.Identity.CorrelationID.String()),
	)
	log := logging.OrNop(h.Logger).With(
		zap.String("aggregate_type", h.Model.Name()),
		zap.Stringer("aggregate_id", id),
		zap.Stringer("command_id", cmd.Identity.MessageID),
	)

	agg, err := h.Load(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load aggregate")
		return Result[S]{}, err
	}
	if options.expectVersion != nil && *options.expectVersion != agg.Version {
		return Result[S]{}, &storage.ConcurrencyConflictError{
			Stream:      h.streamName(),
			AggregateID: id,
			Expected:    *options.expectVersion,
			Actual:      agg.Version,
		}
	}

	next, events, err := mealy.Handle(h.Model, agg, cmd.Command)
	if err != nil {
		var domainErr *mealy.DomainError
		if errors.As(err, &domainErr) {
			log.Info("command rejected", zap.String("code", domainErr.Code), zap.String("state", domainErr.State))
			span.SetAttributes(attribute.String("rejection.code", domainErr.Code))
			return Result[S]{Ack: envelope.RejectCommand(cmd, domainErr.Error()), Aggregate: agg}, err
		}
		span.RecordError(err)
		return Result[S]{}, err
	}

	envs, err := h.envelopes(cmd.Identity, id, agg.Version, events)
	if err != nil {
		return Result[S]{}, err
	}
	if h.Content != nil {
		if envs, err = h.storeContent(ctx, envs); err != nil {
			span.RecordError(err)
			return Result[S]{}, err
		}
	}

	stored, err := h.Stream.Append(ctx, h.streamName(), agg.Version, envs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append")
		log.Warn("append failed", zap.Error(err))
		return Result[S]{}, err
	}

	if h.Ledger != nil {
		if err := h.record(ctx, id, stored); err != nil {
			span.RecordError(err)
			return Result[S]{}, err
		}
	}
	if h.Snapshots != nil {
		// Snapshots are a cache of the stream; a failed write only costs a
		// longer replay on the next load.
		if err := h.saveSnapshot(ctx, next); err != nil {
			log.Warn("save snapshot failed", zap.Error(err))
		}
	}

	log.Debug("command accepted",
		zap.Uint64("version", next.Version),
		zap.Int("events", len(stored)),
	)
	return Result[S]{Ack: envelope.AcceptCommand(cmd), Aggregate: next, Events: stored}, nil
}

// Load rebuilds aggregate id from its snapshot, when one exists, and the
// events after it.
func (h *Handler[S, I, E]) Load(ctx context.Context, id identity.EntityID) (mealy.Aggregate[S], error) {
	if err := h.validate(); err != nil {
		return mealy.Aggregate[S]{}, err
	}
	agg := mealy.New[S](h.Model, id)
	if h.Snapshots != nil {
		snap, err := h.Snapshots.LoadSnapshot(ctx, h.Model.Name(), id)
		switch {
		case err == nil:
			var state S
			if err := json.Unmarshal(snap.State, &state); err != nil {
				return mealy.Aggregate[S]{}, fmt.Errorf("decode %s snapshot: %w", h.Model.Name(), err)
			}
			agg.State = state
			agg.Version = snap.Version
		case !errors.Is(err, storage.ErrNotFound):
			return mealy.Aggregate[S]{}, fmt.Errorf("load %s snapshot: %w", h.Model.Name(), err)
		}
	}

	tail, err := h.Stream.ReadAggregate(ctx, h.streamName(), id, agg.Version)
	if err != nil {
		return mealy.Aggregate[S]{}, fmt.Errorf("read %s events: %w", h.Model.Name(), err)
	}
	events := make([]E, 0, len(tail))
	for _, env := range tail {
		evt, err := h.decode(ctx, env)
		if err != nil {
			return mealy.Aggregate[S]{}, err
		}
		events = append(events, evt)
	}
	agg = mealy.Replay(h.Model, agg, events)
	if n := len(tail); n > 0 && tail[n-1].Version != agg.Version {
		return mealy.Aggregate[S]{}, fmt.Errorf("%s %s: replayed version %d, stream at %d", h.Model.Name(), id, agg.Version, tail[n-1].Version)
	}
	return agg, nil
}

// BucketName names the ledger bucket holding an aggregate's event addresses.
func BucketName(aggregateType string, id identity.EntityID) string {
	return aggregateType + "/" + id.String()
}

func (h *Handler[S, I, E]) validate() error {
	switch {
	case h.Model == nil:
		return ErrModelRequired
	case h.Stream == nil:
		return ErrStreamRequired
	case h.IDs == nil:
		return ErrGeneratorRequired
	}
	return nil
}

func (h *Handler[S, I, E]) streamName() string {
	if h.StreamName != "" {
		return h.StreamName
	}
	return h.Model.Name()
}

func (h *Handler[S, I, E]) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handler[S, I, E]) envelopes(cause identity.MessageIdentity, id identity.EntityID, version uint64, events []E) ([]envelope.EventEnvelope, error) {
	occurredAt := h.now()
	out := make([]envelope.EventEnvelope, 0, len(events))
	for i, evt := range events {
		env, err := envelope.DeriveEvent(h.IDs, cause, envelope.EventSpec{
			AggregateID:      id,
			AggregateType:    h.Model.Name(),
			AggregateVersion: version + uint64(i) + 1,
			EventType:        evt.EventType(),
			Payload:          evt,
			Source:           h.Source,
			Version:          eventSchemaVersion,
		}, occurredAt)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func (h *Handler[S, I, E]) storeContent(ctx context.Context, envs []envelope.EventEnvelope) ([]envelope.EventEnvelope, error) {
	out := make([]envelope.EventEnvelope, len(envs))
	for i, env := range envs {
		swapped, err := envelope.SwapToAddressed(env)
		if err != nil {
			return nil, err
		}
		if err := h.Content.Put(ctx, *swapped.Payload.Address, env.Payload.Inline); err != nil {
			return nil, fmt.Errorf("store %s payload: %w", env.EventType(), err)
		}
		out[i] = swapped
	}
	return out, nil
}

func (h *Handler[S, I, E]) decode(ctx context.Context, env envelope.EventEnvelope) (E, error) {
	resolved, err := storage.Inline(ctx, h.Content, env)
	if err != nil {
		var zero E
		return zero, err
	}
	return envelope.DecodePayload[E](resolved)
}

func (h *Handler[S, I, E]) record(ctx context.Context, id identity.EntityID, events []envelope.EventEnvelope) error {
	name := BucketName(h.Model.Name(), id)
	for _, env := range events {
		addr, err := eventAddress(env, h.Model.Name())
		if err != nil {
			return err
		}
		if _, err := h.Ledger.RecordDomain(ctx, name, addr); err != nil {
			return fmt.Errorf("record %s in %s: %w", env.EventType(), name, err)
		}
	}
	return nil
}

// eventAddress addresses the whole envelope rather than its payload: two
// events with equal payloads still carry distinct identities, so every
// bucket entry is unique to its event.
func eventAddress(env envelope.EventEnvelope, scope string) (address.DomainAddress, error) {
	addr, err := address.ComputeJSON(env, address.ContentTypeEvent)
	if err != nil {
		return address.DomainAddress{}, fmt.Errorf("address %s: %w", env.EventType(), err)
	}
	return addr.InDomain(scope)
}

func (h *Handler[S, I, E]) saveSnapshot(ctx context.Context, agg mealy.Aggregate[S]) error {
	state, err := json.Marshal(agg.State)
	if err != nil {
		return fmt.Errorf("encode %s snapshot: %w", h.Model.Name(), err)
	}
	return h.Snapshots.SaveSnapshot(ctx, storage.Snapshot{
		AggregateType: h.Model.Name(),
		AggregateID:   agg.ID,
		Version:       agg.Version,
		State:         state,
		UpdatedAt:     h.now().UTC(),
	})
}
