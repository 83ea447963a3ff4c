// Package storagetest provides conformance suites every storage backend runs
// against its own implementation. Each suite opens a fresh store per subtest
// through the supplied constructor.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/address"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

// Event builds a valid unsequenced event for aggregateID.
func Event(t *testing.T, gen identity.Generator, aggregateID identity.EntityID, eventType string) envelope.EventEnvelope {
	t.Helper()
	evt, err := envelope.DeriveEvent(gen, identity.NewRoot(gen), envelope.EventSpec{
		AggregateID:   aggregateID,
		AggregateType: "test",
		EventType:     eventType,
		Payload:       map[string]string{"type": eventType},
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatalf("derive event: %v", err)
	}
	return evt
}

// RunStream exercises the storage.Stream contract.
func RunStream(t *testing.T, open func(t *testing.T) storage.Stream) {
	t.Helper()
	ctx := context.Background()

	t.Run("append assigns versions and sequences", func(t *testing.T) {
		s := open(t)
		gen := identity.NewMonotonicGenerator()
		a := identity.NewEntityID(gen)
		b := identity.NewEntityID(gen)

		stored, err := s.Append(ctx, "orders", 0, []envelope.EventEnvelope{
			Event(t, gen, a, "a.one"),
			Event(t, gen, a, "a.two"),
		})
		if err != nil {
			t.Fatalf("append a: %v", err)
		}
		if len(stored) != 2 || stored[0].Version != 1 || stored[1].Version != 2 {
			t.Fatalf("unexpected versions: %+v", stored)
		}
		if stored[0].Sequence != 1 || stored[1].Sequence != 2 {
			t.Fatalf("unexpected sequences: %d, %d", stored[0].Sequence, stored[1].Sequence)
		}

		other, err := s.Append(ctx, "orders", 0, []envelope.EventEnvelope{Event(t, gen, b, "b.one")})
		if err != nil {
			t.Fatalf("append b: %v", err)
		}
		if other[0].Version != 1 || other[0].Sequence != 3 {
			t.Fatalf("expected version 1 sequence 3, got %d/%d", other[0].Version, other[0].Sequence)
		}
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		s := open(t)
		gen := identity.NewMonotonicGenerator()
		id := identity.NewEntityID(gen)
		if _, err := s.Append(ctx, "orders", 0, []envelope.EventEnvelope{Event(t, gen, id, "x.one")}); err != nil {
			t.Fatalf("append: %v", err)
		}

		_, err := s.Append(ctx, "orders", 0, []envelope.EventEnvelope{Event(t, gen, id, "x.two")})
		if !errors.Is(err, storage.ErrConcurrencyConflict) {
			t.Fatalf("expected concurrency conflict, got %v", err)
		}
		var conflict *storage.ConcurrencyConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected *ConcurrencyConflictError, got %T", err)
		}
		if conflict.Expected != 0 || conflict.Actual != 1 {
			t.Fatalf("conflict = %+v", conflict)
		}

		events, err := s.ReadAggregate(ctx, "orders", id, 0)
		if err != nil {
			t.Fatalf("read aggregate: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("conflicting append must not store events, got %d", len(events))
		}
	})

	t.Run("rejects invalid batches", func(t *testing.T) {
		s := open(t)
		gen := identity.NewMonotonicGenerator()
		if _, err := s.Append(ctx, "orders", 0, nil); err == nil {
			t.Fatal("expected error for empty batch")
		}
		mixed := []envelope.EventEnvelope{
			Event(t, gen, identity.NewEntityID(gen), "m.one"),
			Event(t, gen, identity.NewEntityID(gen), "m.two"),
		}
		if _, err := s.Append(ctx, "orders", 0, mixed); err == nil {
			t.Fatal("expected error for batch spanning aggregates")
		}
	})

	t.Run("read aggregate after version", func(t *testing.T) {
		s := open(t)
		gen := identity.NewMonotonicGenerator()
		id := identity.NewEntityID(gen)
		for i, typ := range []string{"r.one", "r.two", "r.three"} {
			if _, err := s.Append(ctx, "orders", uint64(i), []envelope.EventEnvelope{Event(t, gen, id, typ)}); err != nil {
				t.Fatalf("append %s: %v", typ, err)
			}
		}
		tail, err := s.ReadAggregate(ctx, "orders", id, 1)
		if err != nil {
			t.Fatalf("read aggregate: %v", err)
		}
		if len(tail) != 2 || tail[0].EventType() != "r.two" || tail[1].EventType() != "r.three" {
			t.Fatalf("unexpected tail: %+v", tail)
		}
		if tail[0].Payload.IsAddressed() {
			t.Fatal("payload should round-trip inline")
		}
	})

	t.Run("read pages by sequence", func(t *testing.T) {
		s := open(t)
		gen := identity.NewMonotonicGenerator()
		id := identity.NewEntityID(gen)
		for i := range 5 {
			if _, err := s.Append(ctx, "orders", uint64(i), []envelope.EventEnvelope{Event(t, gen, id, "p.evt")}); err != nil {
				t.Fatalf("append %d: %v", i, err)
			}
		}
		page, err := s.Read(ctx, "orders", 2, 2)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if len(page) != 2 || page[0].Sequence != 2 || page[1].Sequence != 3 {
			t.Fatalf("unexpected page: %+v", page)
		}
		rest, err := s.Read(ctx, "orders", 6, 10)
		if err != nil {
			t.Fatalf("read past end: %v", err)
		}
		if len(rest) != 0 {
			t.Fatalf("expected empty page past end, got %d", len(rest))
		}
		other, err := s.Read(ctx, "payments", 1, 10)
		if err != nil {
			t.Fatalf("read other stream: %v", err)
		}
		if len(other) != 0 {
			t.Fatalf("streams must be isolated, got %d events", len(other))
		}
	})

	t.Run("subscribe delivers history then live events", func(t *testing.T) {
		s := open(t)
		gen := identity.NewMonotonicGenerator()
		id := identity.NewEntityID(gen)
		if _, err := s.Append(ctx, "orders", 0, []envelope.EventEnvelope{Event(t, gen, id, "s.one")}); err != nil {
			t.Fatalf("append: %v", err)
		}

		subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		live := Event(t, gen, id, "s.two")
		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = s.Append(ctx, "orders", 1, []envelope.EventEnvelope{live})
		}()

		var got []string
		for evt, err := range s.Subscribe(subCtx, "orders", 1) {
			if err != nil {
				t.Fatalf("subscribe: %v", err)
			}
			got = append(got, evt.EventType())
			if len(got) == 2 {
				break
			}
		}
		if got[0] != "s.one" || got[1] != "s.two" {
			t.Fatalf("unexpected delivery order: %v", got)
		}
	})

	t.Run("subscribe ends with context error", func(t *testing.T) {
		s := open(t)
		subCtx, cancel := context.WithCancel(ctx)
		cancel()
		var last error
		for _, err := range s.Subscribe(subCtx, "orders", 1) {
			last = err
		}
		if !errors.Is(last, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", last)
		}
	})
}

// RunAggregateStore exercises the storage.AggregateStore contract.
func RunAggregateStore(t *testing.T, open func(t *testing.T) storage.AggregateStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing snapshot", func(t *testing.T) {
		s := open(t)
		id := identity.NewEntityID(identity.NewMonotonicGenerator())
		if _, err := s.LoadSnapshot(ctx, "order", id); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("newest snapshot wins", func(t *testing.T) {
		s := open(t)
		id := identity.NewEntityID(identity.NewMonotonicGenerator())
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		save := func(version uint64, state string) {
			t.Helper()
			err := s.SaveSnapshot(ctx, storage.Snapshot{
				AggregateType: "order",
				AggregateID:   id,
				Version:       version,
				State:         []byte(`"` + state + `"`),
				UpdatedAt:     now,
			})
			if err != nil {
				t.Fatalf("save snapshot v%d: %v", version, err)
			}
		}
		save(2, "validated")
		save(1, "created")

		snap, err := s.LoadSnapshot(ctx, "order", id)
		if err != nil {
			t.Fatalf("load snapshot: %v", err)
		}
		if snap.Version != 2 || string(snap.State) != `"validated"` {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}
		if !snap.UpdatedAt.Equal(now) {
			t.Fatalf("updated at = %v, want %v", snap.UpdatedAt, now)
		}

		save(3, "paid")
		snap, err = s.LoadSnapshot(ctx, "order", id)
		if err != nil {
			t.Fatalf("reload snapshot: %v", err)
		}
		if snap.Version != 3 {
			t.Fatalf("expected version 3, got %d", snap.Version)
		}
		if _, err := s.LoadSnapshot(ctx, "payment", id); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("snapshots must be keyed by aggregate type, got %v", err)
		}
	})
}

// RunContentStore exercises the storage.ContentStore contract.
func RunContentStore(t *testing.T, open func(t *testing.T) storage.ContentStore) {
	t.Helper()
	ctx := context.Background()
	s := open(t)

	data := []byte(`{"amount":100}`)
	addr, err := address.Compute(data, address.ContentTypeEvent)
	if err != nil {
		t.Fatalf("compute address: %v", err)
	}
	if _, err := s.Get(ctx, addr); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before put, got %v", err)
	}
	if err := s.Put(ctx, addr, data); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, addr, data); err != nil {
		t.Fatalf("repeated put must be idempotent: %v", err)
	}
	got, err := s.Get(ctx, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("get = %q, want %q", got, data)
	}
	if !addr.Verify(got) {
		t.Fatal("stored bytes must verify against their address")
	}
}

// RunCheckpointStore exercises the storage.CheckpointStore contract.
func RunCheckpointStore(t *testing.T, open func(t *testing.T) storage.CheckpointStore) {
	t.Helper()
	ctx := context.Background()
	s := open(t)

	cp, err := s.GetCheckpoint(ctx, "order-status", "orders")
	if err != nil {
		t.Fatalf("get missing checkpoint: %v", err)
	}
	if cp.Sequence != 0 || cp.Projection != "order-status" || cp.Stream != "orders" {
		t.Fatalf("expected zero checkpoint, got %+v", cp)
	}

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, seq := range []uint64{4, 9} {
		err := s.SaveCheckpoint(ctx, storage.Checkpoint{Projection: "order-status", Stream: "orders", Sequence: seq, UpdatedAt: now})
		if err != nil {
			t.Fatalf("save checkpoint %d: %v", seq, err)
		}
	}
	cp, err = s.GetCheckpoint(ctx, "order-status", "orders")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if cp.Sequence != 9 {
		t.Fatalf("sequence = %d, want 9", cp.Sequence)
	}
	if !cp.UpdatedAt.Equal(now) {
		t.Fatalf("updated at = %v, want %v", cp.UpdatedAt, now)
	}

	other, err := s.GetCheckpoint(ctx, "audit", "orders")
	if err != nil {
		t.Fatalf("get other projection: %v", err)
	}
	if other.Sequence != 0 {
		t.Fatalf("checkpoints must be keyed by projection, got %d", other.Sequence)
	}
}
