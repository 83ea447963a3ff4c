package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/engine"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection/orderstatus"
	"github.com/louisbranch/aggkernel/internal/services/kernel/query"
	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage/memory"
)

type fixture struct {
	ids         identity.Generator
	coordinator *saga.Coordinator
	view        *orderstatus.Projection
	sagaID      identity.EntityID
	orderID     identity.EntityID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	stream := memory.NewStream()
	ids := identity.NewMonotonicGenerator()
	now := func() time.Time { return time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC) }
	c := &saga.Coordinator{
		Orders:    &engine.Handler[order.State, order.Command, order.Event]{Model: order.Model{}, Stream: stream, IDs: ids, Now: now},
		Payments:  &engine.Handler[payment.State, payment.Command, payment.Event]{Model: payment.Model{}, Stream: stream, IDs: ids, Now: now},
		Shipments: &engine.Handler[shipment.State, shipment.Command, shipment.Event]{Model: shipment.Model{}, Stream: stream, IDs: ids, Now: now},
		Stream:    stream,
		IDs:       ids,
		Now:       now,
	}
	started, err := c.Start(ctx, envelope.NewCommand(ids, saga.Participants{}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Handle(ctx, started.SagaID, envelope.NewCommand(ids, saga.Command{Type: saga.CommandValidateOrder})); err != nil {
		t.Fatalf("validate: %v", err)
	}

	view := orderstatus.New()
	runner := &projection.Runner{Stream: stream, Checkpoints: memory.NewCheckpointStore()}
	for _, name := range []string{order.AggregateType, saga.AggregateType} {
		if _, err := runner.CatchUp(ctx, view, name); err != nil {
			t.Fatalf("catch up: %v", err)
		}
	}
	loaded, err := c.Load(ctx, started.SagaID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return fixture{ids: ids, coordinator: c, view: view, sagaID: started.SagaID, orderID: loaded.Record.Participants.OrderID}
}

func TestOrderStatusCarriesQueryIdentity(t *testing.T) {
	f := newFixture(t)
	orders := &query.Orders{View: f.view}
	q := envelope.NewQuery(f.ids, query.OrderStatus{OrderID: f.orderID})

	resp, err := orders.Status(context.Background(), q)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.Query != q.Identity {
		t.Fatalf("response identity = %+v, want %+v", resp.Query, q.Identity)
	}
	if resp.Result.State != order.StateValidated || resp.Result.StepsDone != 1 {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
}

func TestOrderStatusUnknownOrder(t *testing.T) {
	f := newFixture(t)
	orders := &query.Orders{View: f.view}
	_, err := orders.Status(context.Background(), envelope.NewQuery(f.ids, query.OrderStatus{OrderID: identity.NewEntityID(f.ids)}))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("code = %s", apperrors.CodeOf(err))
	}
}

func TestQueriesRejectIncompleteIdentity(t *testing.T) {
	f := newFixture(t)
	orders := &query.Orders{View: f.view}
	_, err := orders.Status(context.Background(), envelope.QueryEnvelope[query.OrderStatus]{Query: query.OrderStatus{OrderID: f.orderID}})
	if apperrors.CodeOf(err) != apperrors.CodeEnvelopeInvalid {
		t.Fatalf("expected invalid envelope, got %v", err)
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	orders := &query.Orders{View: f.view}
	q := envelope.NewQuery(f.ids, query.ListOrders{})
	resp, err := orders.List(context.Background(), q)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.Query != q.Identity || len(resp.Result) != 1 || resp.Result[0].OrderID != f.orderID {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if _, err := (&query.Orders{}).List(context.Background(), q); !errors.Is(err, query.ErrReadModelRequired) {
		t.Fatalf("expected read model required, got %v", err)
	}
}

func TestSagaStatus(t *testing.T) {
	f := newFixture(t)
	sagas := &query.Sagas{Coordinator: f.coordinator}
	cause := envelope.NewCommand(f.ids, struct{}{})
	q := envelope.DeriveQuery(f.ids, cause.Identity, query.SagaStatus{SagaID: f.sagaID})

	resp, err := sagas.Status(context.Background(), q)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if resp.Query.CorrelationID != cause.Identity.CorrelationID || resp.Query.CausationID != cause.Identity.MessageID {
		t.Fatalf("response lost the query lineage: %+v", resp.Query)
	}
	if resp.Result.State != saga.StateStepValidated || resp.Result.Participants.OrderID != f.orderID {
		t.Fatalf("unexpected result: %+v", resp.Result)
	}
}
