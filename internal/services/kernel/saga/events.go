package saga

import (
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/vclock"
)

// AggregateType names the saga in envelopes and streams.
const AggregateType = "saga"

// EventType names a saga event.
type EventType string

const (
	EventStarted             EventType = "saga.started"
	EventStepCompleted       EventType = "saga.step_completed"
	EventStepFailed          EventType = "saga.step_failed"
	EventCompleted           EventType = "saga.completed"
	EventCompensationStarted EventType = "saga.compensation_started"
	EventStepCompensated     EventType = "saga.step_compensated"
	EventCompensated         EventType = "saga.compensated"
	EventCompensationFailed  EventType = "saga.compensation_failed"
)

// Participants holds the aggregate ids a saga coordinates.
type Participants struct {
	OrderID    identity.EntityID `json:"order_id"`
	PaymentID  identity.EntityID `json:"payment_id"`
	ShipmentID identity.EntityID `json:"shipment_id"`
}

// Event is a saga log entry. TraceID ties the entry to the span that wrote it.
type Event struct {
	Type         EventType     `json:"type"`
	Step         int           `json:"step,omitempty"`
	Command      string        `json:"command,omitempty"`
	Participants *Participants `json:"participants,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Clock        vclock.Clock  `json:"clock,omitempty"`
	TraceID      string        `json:"trace_id,omitempty"`
}

// EventType implements engine.Event.
func (e Event) EventType() string { return string(e.Type) }

// Record is the saga's own state, folded from its event stream.
type Record struct {
	ID           identity.EntityID `json:"id"`
	Participants Participants      `json:"participants"`
	Failed       bool              `json:"failed"`
	FailedStep   int               `json:"failed_step,omitempty"`
	Clock        vclock.Clock      `json:"clock,omitempty"`
	Version      uint64            `json:"version"`
}

// Apply folds one saga event into the record.
func (r Record) Apply(evt Event) Record {
	switch evt.Type {
	case EventStarted:
		if evt.Participants != nil {
			r.Participants = *evt.Participants
		}
	case EventCompensationFailed:
		r.Failed = true
		r.FailedStep = evt.Step
	}
	r.Clock = r.Clock.Merge(evt.Clock)
	r.Version++
	return r
}
