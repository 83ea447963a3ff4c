// Package orderstatus is a read model of each order's state and the progress
// of the saga driving it. It is fed by the order and saga streams.
package orderstatus

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/collection"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/saga"
)

// Name is the projection's checkpoint key.
const Name = "order_status"

// Outcome is how a saga ended. Empty while it is running.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeCompensated Outcome = "compensated"
	OutcomeFailed      Outcome = "failed"
)

// View is one order's status.
type View struct {
	OrderID   identity.EntityID `json:"order_id"`
	State     order.State       `json:"state"`
	Version   uint64            `json:"version"`
	SagaID    identity.EntityID `json:"saga_id,omitzero"`
	StepsDone int               `json:"steps_done"`
	// Compensated lists undone steps in the order they were undone.
	Compensated []int   `json:"compensated,omitempty"`
	Outcome     Outcome `json:"outcome,omitempty"`
	Rejection   string  `json:"rejection,omitempty"`
	// LastCorrelation is the correlation id of the latest event applied.
	LastCorrelation identity.MessageID `json:"last_correlation"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Projection implements projection.Projection. It is safe for concurrent use
// by one runner per stream.
type Projection struct {
	mu     sync.RWMutex
	orders map[identity.EntityID]View
	sagas  map[identity.EntityID]identity.EntityID
}

// New returns an empty projection.
func New() *Projection {
	return &Projection{
		orders: make(map[identity.EntityID]View),
		sagas:  make(map[identity.EntityID]identity.EntityID),
	}
}

// Name implements projection.Projection.
func (p *Projection) Name() string { return Name }

// HandleEvent implements projection.Projection. Events from other aggregate
// types are ignored.
func (p *Projection) HandleEvent(_ context.Context, evt envelope.EventEnvelope) error {
	switch evt.AggregateType {
	case order.AggregateType:
		return p.applyOrder(evt)
	case saga.AggregateType:
		return p.applySaga(evt)
	}
	return nil
}

// Clear implements projection.Projection.
func (p *Projection) Clear(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.orders)
	clear(p.sagas)
	return nil
}

// Get returns the status of one order.
func (p *Projection) Get(orderID identity.EntityID) (View, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.orders[orderID]
	if ok {
		v.Compensated = slices.Clone(v.Compensated)
	}
	return v, ok
}

// List returns every order ordered by id.
func (p *Projection) List() []View {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]View, 0, len(p.orders))
	for _, v := range p.orders {
		v.Compensated = slices.Clone(v.Compensated)
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b View) int {
		return cmp.Compare(a.OrderID.String(), b.OrderID.String())
	})
	return out
}

func (p *Projection) applyOrder(evt envelope.EventEnvelope) error {
	payload, err := envelope.DecodePayload[order.Event](evt)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.view(evt.AggregateID)
	if evt.Version <= v.Version {
		return nil
	}
	v.State = order.Model{}.Apply(v.State, payload)
	v.Version = evt.Version
	touch(&v, evt)
	p.orders[v.OrderID] = v
	return nil
}

func (p *Projection) applySaga(evt envelope.EventEnvelope) error {
	payload, err := envelope.DecodePayload[saga.Event](evt)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if payload.Type == saga.EventStarted {
		if payload.Participants == nil {
			return fmt.Errorf("saga %s started without participants", evt.AggregateID)
		}
		p.sagas[evt.AggregateID] = payload.Participants.OrderID
	}
	orderID, ok := p.sagas[evt.AggregateID]
	if !ok {
		return nil
	}
	v := p.view(orderID)
	v.SagaID = evt.AggregateID
	switch payload.Type {
	case saga.EventStepCompleted:
		v.StepsDone = max(v.StepsDone, payload.Step)
	case saga.EventStepFailed:
		v.Rejection = payload.Reason
	case saga.EventStepCompensated:
		v.Compensated = collection.SequenceMonoid[int]{}.Combine(v.Compensated, collection.Sequence[int]{payload.Step})
	case saga.EventCompleted:
		v.Outcome = OutcomeCompleted
	case saga.EventCompensated:
		v.Outcome = OutcomeCompensated
	case saga.EventCompensationFailed:
		v.Outcome = OutcomeFailed
	}
	touch(&v, evt)
	p.orders[orderID] = v
	return nil
}

// view returns the stored view for id or a fresh one. Callers hold mu.
func (p *Projection) view(id identity.EntityID) View {
	if v, ok := p.orders[id]; ok {
		return v
	}
	return View{OrderID: id, State: order.Model{}.Initial()}
}

func touch(v *View, evt envelope.EventEnvelope) {
	v.LastCorrelation = evt.Identity.CorrelationID
	if evt.OccurredAt.After(v.UpdatedAt) {
		v.UpdatedAt = evt.OccurredAt
	}
}
