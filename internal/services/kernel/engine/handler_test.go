package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/bucket"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/memory"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newOrderHandler(stream storage.Stream) *Handler[order.State, order.Command, order.Event] {
	return &Handler[order.State, order.Command, order.Event]{
		Model:  order.Model{},
		Stream: stream,
		IDs:    identity.NewMonotonicGenerator(),
		Source: "test",
		Now:    func() time.Time { return fixedNow },
	}
}

func orderCommand(h *Handler[order.State, order.Command, order.Event], typ order.CommandType) envelope.CommandEnvelope[order.Command] {
	return envelope.NewCommand(h.IDs, order.Command{Type: typ})
}

func TestHandleAppendsDerivedEvents(t *testing.T) {
	ctx := context.Background()
	stream := memory.NewStream()
	h := newOrderHandler(stream)
	id := identity.NewEntityID(h.IDs)
	cmd := orderCommand(h, order.CommandValidate)

	result, err := h.Handle(ctx, id, cmd)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Ack.Status != envelope.AckAccepted || result.Ack.CommandID() != cmd.Identity.MessageID {
		t.Fatalf("unexpected ack: %+v", result.Ack)
	}
	if result.Aggregate.State != order.StateValidated || result.Aggregate.Version != 1 {
		t.Fatalf("unexpected aggregate: %+v", result.Aggregate)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(result.Events))
	}
	evt := result.Events[0]
	if !evt.Identity.CausedBy(cmd.Identity) {
		t.Fatalf("event identity %+v is not caused by command %+v", evt.Identity, cmd.Identity)
	}
	if evt.EventType() != string(order.EventValidated) || evt.Version != 1 || evt.Sequence != 1 {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.AggregateType != order.AggregateType || evt.Metadata.Source != "test" {
		t.Fatalf("unexpected envelope fields: %+v", evt)
	}
	if !evt.OccurredAt.Equal(fixedNow) {
		t.Fatalf("occurred at = %v, want %v", evt.OccurredAt, fixedNow)
	}
}

func TestHandleRejectsInvalidTransitionWithoutAppending(t *testing.T) {
	ctx := context.Background()
	stream := memory.NewStream()
	h := newOrderHandler(stream)
	id := identity.NewEntityID(h.IDs)

	result, err := h.Handle(ctx, id, orderCommand(h, order.CommandShip))
	var domainErr *mealy.DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Code != mealy.RejectInvalidTransition {
		t.Fatalf("code = %q", domainErr.Code)
	}
	if apperrors.CodeOf(err) != apperrors.CodeDomainRejected {
		t.Fatalf("error code = %q", apperrors.CodeOf(err))
	}
	if result.Ack.Status != envelope.AckRejected || result.Ack.Reason == "" {
		t.Fatalf("expected rejected ack with reason, got %+v", result.Ack)
	}
	if result.Aggregate.State != order.StateCreated || result.Aggregate.Version != 0 {
		t.Fatalf("aggregate must be unchanged, got %+v", result.Aggregate)
	}
	events, err := stream.ReadAggregate(ctx, order.AggregateType, id, 0)
	if err != nil {
		t.Fatalf("read aggregate: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("rejected command appended %d events", len(events))
	}
}

func TestHandleRunsGuards(t *testing.T) {
	ctx := context.Background()
	h := &Handler[payment.State, payment.Command, payment.Event]{
		Model:  payment.Model{Limit: 500},
		Stream: memory.NewStream(),
		IDs:    identity.NewMonotonicGenerator(),
	}
	id := identity.NewEntityID(h.IDs)
	cmd := envelope.NewCommand(h.IDs, payment.Command{Type: payment.CommandCapture, Amount: 900})

	_, err := h.Handle(ctx, id, cmd)
	var domainErr *mealy.DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != payment.RejectLimitExceeded {
		t.Fatalf("expected limit rejection, got %v", err)
	}
}

func TestLoadReplaysStream(t *testing.T) {
	ctx := context.Background()
	stream := memory.NewStream()
	h := newOrderHandler(stream)
	id := identity.NewEntityID(h.IDs)
	for _, typ := range []order.CommandType{order.CommandValidate, order.CommandPay, order.CommandShip} {
		if _, err := h.Handle(ctx, id, orderCommand(h, typ)); err != nil {
			t.Fatalf("handle %s: %v", typ, err)
		}
	}

	fresh := newOrderHandler(stream)
	agg, err := fresh.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agg.State != order.StateShipped || agg.Version != 3 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestExpectVersionConflict(t *testing.T) {
	ctx := context.Background()
	h := newOrderHandler(memory.NewStream())
	id := identity.NewEntityID(h.IDs)
	if _, err := h.Handle(ctx, id, orderCommand(h, order.CommandValidate)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	_, err := h.Handle(ctx, id, orderCommand(h, order.CommandPay), ExpectVersion(0))
	if !errors.Is(err, storage.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if !apperrors.CodeOf(err).Retryable() {
		t.Fatal("concurrency conflicts should be retryable")
	}
	if _, err := h.Handle(ctx, id, orderCommand(h, order.CommandPay), ExpectVersion(1)); err != nil {
		t.Fatalf("handle at expected version: %v", err)
	}
}

// staleStream reports an aggregate as empty so the append conflicts with
// the events another writer already stored.
type staleStream struct {
	*memory.Stream
}

func (s staleStream) ReadAggregate(context.Context, string, identity.EntityID, uint64) ([]envelope.EventEnvelope, error) {
	return nil, nil
}

func TestHandleSurfacesAppendConflict(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewStream()
	h := newOrderHandler(inner)
	id := identity.NewEntityID(h.IDs)
	if _, err := h.Handle(ctx, id, orderCommand(h, order.CommandValidate)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	stale := newOrderHandler(staleStream{inner})
	_, err := stale.Handle(ctx, id, orderCommand(stale, order.CommandValidate))
	var conflict *storage.ConcurrencyConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if conflict.Expected != 0 || conflict.Actual != 1 {
		t.Fatalf("conflict = %+v", conflict)
	}
}

func TestHandleWithContentStoreAndLedger(t *testing.T) {
	ctx := context.Background()
	content := memory.NewContentStore()
	ledger := bucket.NewLedger(nil)
	h := newOrderHandler(memory.NewStream())
	h.Content = content
	h.Ledger = ledger
	id := identity.NewEntityID(h.IDs)

	for _, typ := range []order.CommandType{order.CommandValidate, order.CommandPay} {
		result, err := h.Handle(ctx, id, orderCommand(h, typ))
		if err != nil {
			t.Fatalf("handle %s: %v", typ, err)
		}
		evt := result.Events[0]
		if !evt.Payload.IsAddressed() {
			t.Fatalf("expected addressed payload for %s", typ)
		}
		raw, err := content.Get(ctx, *evt.Payload.Address)
		if err != nil {
			t.Fatalf("content for %s: %v", typ, err)
		}
		if !evt.Payload.Address.Verify(raw) {
			t.Fatalf("content for %s does not verify", typ)
		}
	}

	name := BucketName(order.AggregateType, id)
	entries := ledger.Entries(name)
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}
	if err := ledger.Verify(name); err != nil {
		t.Fatalf("verify ledger: %v", err)
	}

	// A second order emits a byte-identical validated payload; its bucket
	// entry must still be its own.
	other := identity.NewEntityID(h.IDs)
	if _, err := h.Handle(ctx, other, orderCommand(h, order.CommandValidate)); err != nil {
		t.Fatalf("handle other: %v", err)
	}
	otherName := BucketName(order.AggregateType, other)
	otherEntries := ledger.Entries(otherName)
	if len(otherEntries) != 1 {
		t.Fatalf("expected 1 entry for other order, got %d", len(otherEntries))
	}
	if otherEntries[0].Address == entries[0].Address {
		t.Fatal("events with equal payloads share a ledger address")
	}
	for bucketName, entry := range map[string]bucket.Entry{name: entries[0], otherName: otherEntries[0]} {
		if entry.Address.Context != order.AggregateType {
			t.Fatalf("entry context = %q", entry.Address.Context)
		}
		tracked, ok := ledger.Index().Lookup(entry.Address)
		if !ok || tracked.CurrentBucket != bucketName {
			t.Fatalf("tracked = %+v, want bucket %s", tracked, bucketName)
		}
	}

	agg, err := newLoaderWithContent(h.Stream, content).Load(ctx, id)
	if err != nil {
		t.Fatalf("load addressed events: %v", err)
	}
	if agg.State != order.StatePaid {
		t.Fatalf("state = %s, want paid", agg.State)
	}
}

func newLoaderWithContent(stream storage.Stream, content storage.ContentStore) *Handler[order.State, order.Command, order.Event] {
	h := newOrderHandler(stream)
	h.Content = content
	return h
}

func TestLoadFailsWithoutContentForAddressedEvents(t *testing.T) {
	ctx := context.Background()
	stream := memory.NewStream()
	h := newOrderHandler(stream)
	h.Content = memory.NewContentStore()
	id := identity.NewEntityID(h.IDs)
	if _, err := h.Handle(ctx, id, orderCommand(h, order.CommandValidate)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := newOrderHandler(stream).Load(ctx, id); err == nil {
		t.Fatal("expected error loading addressed events without a content store")
	}
}

func TestSnapshotsShortenReplay(t *testing.T) {
	ctx := context.Background()
	stream := memory.NewStream()
	snapshots := memory.NewAggregateStore()
	h := newOrderHandler(stream)
	h.Snapshots = snapshots
	id := identity.NewEntityID(h.IDs)
	for _, typ := range []order.CommandType{order.CommandValidate, order.CommandPay} {
		if _, err := h.Handle(ctx, id, orderCommand(h, typ)); err != nil {
			t.Fatalf("handle %s: %v", typ, err)
		}
	}

	snap, err := snapshots.LoadSnapshot(ctx, order.AggregateType, id)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Version != 2 || string(snap.State) != `"paid"` {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	// A snapshot ahead of the stream tail must still load to the same state.
	agg, err := h.Load(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if agg.State != order.StatePaid || agg.Version != 2 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestHandleRequiresDependencies(t *testing.T) {
	ctx := context.Background()
	gen := identity.NewMonotonicGenerator()
	cmd := envelope.NewCommand(gen, order.Command{Type: order.CommandValidate})
	id := identity.NewEntityID(gen)

	cases := []struct {
		name    string
		handler *Handler[order.State, order.Command, order.Event]
		want    error
	}{
		{"model", &Handler[order.State, order.Command, order.Event]{Stream: memory.NewStream(), IDs: gen}, ErrModelRequired},
		{"stream", &Handler[order.State, order.Command, order.Event]{Model: order.Model{}, IDs: gen}, ErrStreamRequired},
		{"ids", &Handler[order.State, order.Command, order.Event]{Model: order.Model{}, Stream: memory.NewStream()}, ErrGeneratorRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.handler.Handle(ctx, id, cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHandleRejectsInvalidEnvelope(t *testing.T) {
	h := newOrderHandler(memory.NewStream())
	id := identity.NewEntityID(h.IDs)
	_, err := h.Handle(context.Background(), id, envelope.CommandEnvelope[order.Command]{Command: order.Command{Type: order.CommandValidate}})
	if apperrors.CodeOf(err) != apperrors.CodeEnvelopeInvalid {
		t.Fatalf("expected envelope invalid, got %v", err)
	}
}
