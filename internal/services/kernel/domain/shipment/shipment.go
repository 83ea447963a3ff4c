// Package shipment is the shipment participant aggregate.
package shipment

import "github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"

// AggregateType names the shipment aggregate in envelopes and streams.
const AggregateType = "shipment"

const (
	// RejectCarrierRequired rejects dispatch without a carrier.
	RejectCarrierRequired = "SHIPMENT_CARRIER_REQUIRED"
	// RejectSignatureRequired rejects delivery without a recipient signature.
	RejectSignatureRequired = "SHIPMENT_SIGNATURE_REQUIRED"
)

// State is the shipment lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateDispatched State = "dispatched"
	StateDelivered  State = "delivered"
	StateRecalled   State = "recalled"
	StateFailed     State = "failed"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further input changes the state.
func (s State) IsTerminal() bool {
	return s == StateDelivered || s == StateRecalled || s == StateFailed
}

// CommandType names a shipment command.
type CommandType string

const (
	CommandDispatch CommandType = "shipment.dispatch"
	CommandDeliver  CommandType = "shipment.deliver"
	CommandRecall   CommandType = "shipment.recall"
	CommandFail     CommandType = "shipment.fail"
)

// Command is a shipment input.
type Command struct {
	Type      CommandType `json:"type"`
	Carrier   string      `json:"carrier,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Reason    string      `json:"reason,omitempty"`
}

// Name implements mealy.Named.
func (c Command) Name() string { return string(c.Type) }

// EventType names a shipment event.
type EventType string

const (
	EventDispatched EventType = "shipment.dispatched"
	EventDelivered  EventType = "shipment.delivered"
	EventRecalled   EventType = "shipment.recalled"
	EventFailed     EventType = "shipment.failed"
)

// Event is a shipment fact.
type Event struct {
	Type      EventType `json:"type"`
	Carrier   string    `json:"carrier,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// EventType implements engine.Event.
func (e Event) EventType() string { return string(e.Type) }

// Model implements mealy.Model for shipments.
type Model struct{}

var _ mealy.Model[State, Command, Event] = Model{}

// Name implements mealy.Model.
func (Model) Name() string { return AggregateType }

// AllStates implements mealy.Space.
func (Model) AllStates() []State {
	return []State{StatePending, StateDispatched, StateDelivered, StateRecalled, StateFailed}
}

// Initial implements mealy.Space.
func (Model) Initial() State { return StatePending }

// Guard implements mealy.Guard.
func (Model) Guard(state State, cmd Command) error {
	switch {
	case cmd.Type == CommandDispatch && state == StatePending && cmd.Carrier == "":
		return mealy.Reject(RejectCarrierRequired, "carrier is required")
	case cmd.Type == CommandDeliver && state == StateDispatched && cmd.Signature == "":
		return mealy.Reject(RejectSignatureRequired, "recipient signature is required")
	}
	return nil
}

// Transition implements mealy.Machine.
func (m Model) Transition(state State, cmd Command) State {
	if events := m.Output(state, cmd); len(events) > 0 {
		return m.Apply(state, events[0])
	}
	return state
}

// Output implements mealy.Machine.
func (Model) Output(state State, cmd Command) []Event {
	switch {
	case cmd.Type == CommandDispatch && state == StatePending:
		return []Event{{Type: EventDispatched, Carrier: cmd.Carrier}}
	case cmd.Type == CommandDeliver && state == StateDispatched:
		return []Event{{Type: EventDelivered, Signature: cmd.Signature}}
	case cmd.Type == CommandRecall && (state == StatePending || state == StateDispatched):
		return []Event{{Type: EventRecalled, Reason: cmd.Reason}}
	case cmd.Type == CommandFail && state == StateDispatched:
		return []Event{{Type: EventFailed, Reason: cmd.Reason}}
	}
	return nil
}

// Apply implements mealy.Applier.
func (Model) Apply(state State, evt Event) State {
	switch evt.Type {
	case EventDispatched:
		return StateDispatched
	case EventDelivered:
		return StateDelivered
	case EventRecalled:
		return StateRecalled
	case EventFailed:
		return StateFailed
	}
	return state
}
