package orderstatus_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/engine"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection/orderstatus"
	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/memory"
)

var fixedNow = time.Date(2026, 8, 9, 10, 11, 12, 0, time.UTC)

func newCoordinator(stream *memory.Stream) *saga.Coordinator {
	ids := identity.NewMonotonicGenerator()
	now := func() time.Time { return fixedNow }
	return &saga.Coordinator{
		Orders:    &engine.Handler[order.State, order.Command, order.Event]{Model: order.Model{}, Stream: stream, IDs: ids, Now: now},
		Payments:  &engine.Handler[payment.State, payment.Command, payment.Event]{Model: payment.Model{Limit: 1000}, Stream: stream, IDs: ids, Now: now},
		Shipments: &engine.Handler[shipment.State, shipment.Command, shipment.Event]{Model: shipment.Model{}, Stream: stream, IDs: ids, Now: now},
		Stream:    stream,
		IDs:       ids,
		Now:       now,
	}
}

func runSaga(t *testing.T, c *saga.Coordinator, commands ...saga.Command) saga.Participants {
	t.Helper()
	ctx := context.Background()
	started, err := c.Start(ctx, envelope.NewCommand(c.IDs, saga.Participants{}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, cmd := range commands {
		if _, err := c.Handle(ctx, started.SagaID, envelope.NewCommand(c.IDs, cmd)); err != nil {
			t.Fatalf("handle %s: %v", cmd.Type, err)
		}
	}
	view, err := c.Load(ctx, started.SagaID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return view.Record.Participants
}

func catchUp(t *testing.T, stream *memory.Stream, p *orderstatus.Projection) {
	t.Helper()
	runner := &projection.Runner{Stream: stream, Checkpoints: memory.NewCheckpointStore()}
	for _, name := range []string{order.AggregateType, saga.AggregateType} {
		if _, err := runner.CatchUp(context.Background(), p, name); err != nil {
			t.Fatalf("catch up %s: %v", name, err)
		}
	}
}

func TestProjectionTracksCompletedSaga(t *testing.T) {
	stream := memory.NewStream()
	c := newCoordinator(stream)
	participants := runSaga(t, c,
		saga.Command{Type: saga.CommandValidateOrder},
		saga.Command{Type: saga.CommandProcessPayment, Amount: 120},
		saga.Command{Type: saga.CommandShipOrder, Carrier: "fedex"},
		saga.Command{Type: saga.CommandConfirmDelivery, Signature: "j. doe"},
	)

	p := orderstatus.New()
	catchUp(t, stream, p)
	view, ok := p.Get(participants.OrderID)
	if !ok {
		t.Fatal("order not projected")
	}
	if view.State != order.StateValidated || view.Version != 1 {
		t.Fatalf("unexpected order state: %+v", view)
	}
	if view.StepsDone != 4 || view.Outcome != orderstatus.OutcomeCompleted || view.SagaID.IsZero() {
		t.Fatalf("unexpected saga progress: %+v", view)
	}
	if !view.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("updated at = %v", view.UpdatedAt)
	}
}

func TestProjectionTracksCompensation(t *testing.T) {
	stream := memory.NewStream()
	c := newCoordinator(stream)
	participants := runSaga(t, c,
		saga.Command{Type: saga.CommandValidateOrder},
		saga.Command{Type: saga.CommandProcessPayment, Amount: 120},
		saga.Command{Type: saga.CommandShipOrder, Carrier: "fedex"},
		saga.Command{Type: saga.CommandConfirmDelivery},
	)

	p := orderstatus.New()
	catchUp(t, stream, p)
	view, ok := p.Get(participants.OrderID)
	if !ok {
		t.Fatal("order not projected")
	}
	if view.State != order.StateCancelled || view.Outcome != orderstatus.OutcomeCompensated {
		t.Fatalf("unexpected view: %+v", view)
	}
	if !slices.Equal(view.Compensated, []int{3, 2, 1}) || view.Rejection == "" {
		t.Fatalf("unexpected compensation: %+v", view)
	}
}

func TestProjectionClearAndList(t *testing.T) {
	stream := memory.NewStream()
	c := newCoordinator(stream)
	runSaga(t, c, saga.Command{Type: saga.CommandValidateOrder})
	runSaga(t, c)

	p := orderstatus.New()
	catchUp(t, stream, p)
	views := p.List()
	if len(views) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(views))
	}
	if views[0].OrderID.String() > views[1].OrderID.String() {
		t.Fatal("list is not ordered by id")
	}
	if err := p.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(p.List()) != 0 {
		t.Fatal("clear left views behind")
	}
}
