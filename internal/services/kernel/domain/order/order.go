// Package order is the reference order aggregate:
// Created → Validated → Paid → Shipped → Delivered, with Cancel allowed from
// any non-terminal state.
package order

import "github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"

// AggregateType names the order aggregate in envelopes and streams.
const AggregateType = "order"

// State is the order lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateValidated State = "validated"
	StatePaid      State = "paid"
	StateShipped   State = "shipped"
	StateDelivered State = "delivered"
	StateCancelled State = "cancelled"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further input changes the state.
func (s State) IsTerminal() bool {
	return s == StateDelivered || s == StateCancelled
}

// CommandType names an order command.
type CommandType string

const (
	CommandValidate CommandType = "order.validate"
	CommandPay      CommandType = "order.pay"
	CommandShip     CommandType = "order.ship"
	CommandDeliver  CommandType = "order.deliver"
	CommandCancel   CommandType = "order.cancel"
)

// Command is an order input.
type Command struct {
	Type   CommandType `json:"type"`
	Reason string      `json:"reason,omitempty"`
}

// Name implements mealy.Named.
func (c Command) Name() string { return string(c.Type) }

// EventType names an order event.
type EventType string

const (
	EventValidated        EventType = "order.validated"
	EventPaymentProcessed EventType = "order.payment_processed"
	EventShipped          EventType = "order.shipped"
	EventDelivered        EventType = "order.delivered"
	EventCancelled        EventType = "order.cancelled"
)

// Event is an order fact.
type Event struct {
	Type   EventType `json:"type"`
	Reason string    `json:"reason,omitempty"`
}

// EventType implements engine.Event.
func (e Event) EventType() string { return string(e.Type) }

// forward maps each non-cancel command to the state it applies in, the state
// it leads to, and the event it emits.
var forward = map[CommandType]struct {
	from, to State
	event    EventType
}{
	CommandValidate: {StateCreated, StateValidated, EventValidated},
	CommandPay:      {StateValidated, StatePaid, EventPaymentProcessed},
	CommandShip:     {StatePaid, StateShipped, EventShipped},
	CommandDeliver:  {StateShipped, StateDelivered, EventDelivered},
}

// eventTargets maps each event to the state it establishes.
var eventTargets = map[EventType]State{
	EventValidated:        StateValidated,
	EventPaymentProcessed: StatePaid,
	EventShipped:          StateShipped,
	EventDelivered:        StateDelivered,
	EventCancelled:        StateCancelled,
}

// Model implements mealy.Model for orders.
type Model struct{}

var _ mealy.Model[State, Command, Event] = Model{}

// Name implements mealy.Model.
func (Model) Name() string { return AggregateType }

// AllStates implements mealy.Space.
func (Model) AllStates() []State {
	return []State{StateCreated, StateValidated, StatePaid, StateShipped, StateDelivered, StateCancelled}
}

// Initial implements mealy.Space.
func (Model) Initial() State { return StateCreated }

// Transition implements mealy.Machine.
func (Model) Transition(state State, cmd Command) State {
	if cmd.Type == CommandCancel {
		if state.IsTerminal() {
			return state
		}
		return StateCancelled
	}
	rule, ok := forward[cmd.Type]
	if !ok || rule.from != state {
		return state
	}
	return rule.to
}

// Output implements mealy.Machine.
func (Model) Output(state State, cmd Command) []Event {
	if cmd.Type == CommandCancel {
		if state.IsTerminal() {
			return nil
		}
		return []Event{{Type: EventCancelled, Reason: cmd.Reason}}
	}
	rule, ok := forward[cmd.Type]
	if !ok || rule.from != state {
		return nil
	}
	return []Event{{Type: rule.event}}
}

// Apply implements mealy.Applier.
func (Model) Apply(state State, evt Event) State {
	if next, ok := eventTargets[evt.Type]; ok {
		return next
	}
	return state
}
