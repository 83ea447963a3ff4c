package query

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/louisbranch/aggkernel/internal/platform/logging"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/projection/orderstatus"
	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

// OrderStatus asks for one order's projected status.
type OrderStatus struct {
	OrderID identity.EntityID `json:"order_id"`
}

// ListOrders asks for every projected order.
type ListOrders struct{}

// SagaStatus asks for a saga's derived state.
type SagaStatus struct {
	SagaID identity.EntityID `json:"saga_id"`
}

// SagaStatusResult is the answer to SagaStatus.
type SagaStatusResult struct {
	SagaID       identity.EntityID `json:"saga_id"`
	State        saga.State        `json:"state"`
	Participants saga.Participants `json:"participants"`
	Version      uint64            `json:"version"`
}

// Orders answers order queries from the order-status read model.
type Orders struct {
	View   *orderstatus.Projection
	Logger *zap.Logger
}

// Status implements Responder for OrderStatus. Unknown orders are
// storage.ErrNotFound.
func (o *Orders) Status(ctx context.Context, q envelope.QueryEnvelope[OrderStatus]) (envelope.QueryResponse[orderstatus.View], error) {
	logging.OrNop(o.Logger).Debug("order status query",
		zap.Stringer("order_id", q.Query.OrderID),
		zap.Stringer("correlation_id", q.Identity.CorrelationID),
	)
	return Func[OrderStatus, orderstatus.View](func(_ context.Context, q OrderStatus) (orderstatus.View, error) {
		if o.View == nil {
			return orderstatus.View{}, ErrReadModelRequired
		}
		view, ok := o.View.Get(q.OrderID)
		if !ok {
			return orderstatus.View{}, fmt.Errorf("order %s: %w", q.OrderID, storage.ErrNotFound)
		}
		return view, nil
	}).Respond(ctx, q)
}

// List implements Responder for ListOrders.
func (o *Orders) List(ctx context.Context, q envelope.QueryEnvelope[ListOrders]) (envelope.QueryResponse[[]orderstatus.View], error) {
	return Func[ListOrders, []orderstatus.View](func(context.Context, ListOrders) ([]orderstatus.View, error) {
		if o.View == nil {
			return nil, ErrReadModelRequired
		}
		return o.View.List(), nil
	}).Respond(ctx, q)
}

// Sagas answers saga queries by loading the saga through its coordinator.
type Sagas struct {
	Coordinator *saga.Coordinator
}

// Status implements Responder for SagaStatus.
func (s *Sagas) Status(ctx context.Context, q envelope.QueryEnvelope[SagaStatus]) (envelope.QueryResponse[SagaStatusResult], error) {
	return Func[SagaStatus, SagaStatusResult](func(ctx context.Context, q SagaStatus) (SagaStatusResult, error) {
		if s.Coordinator == nil {
			return SagaStatusResult{}, ErrReadModelRequired
		}
		view, err := s.Coordinator.Load(ctx, q.SagaID)
		if err != nil {
			return SagaStatusResult{}, err
		}
		return SagaStatusResult{
			SagaID:       q.SagaID,
			State:        view.State,
			Participants: view.Record.Participants,
			Version:      view.Record.Version,
		}, nil
	}).Respond(ctx, q)
}

var (
	_ Responder[OrderStatus, orderstatus.View] = Func[OrderStatus, orderstatus.View](nil)
	_ Responder[SagaStatus, SagaStatusResult]  = Func[SagaStatus, SagaStatusResult](nil)
)
