// Package payment is the payment participant aggregate. Captures are bounded
// by a configured limit.
package payment

import (
	"fmt"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
)

// AggregateType names the payment aggregate in envelopes and streams.
const AggregateType = "payment"

const (
	// RejectInvalidAmount rejects non-positive captures.
	RejectInvalidAmount = "PAYMENT_INVALID_AMOUNT"
	// RejectLimitExceeded rejects captures above the limit.
	RejectLimitExceeded = "PAYMENT_LIMIT_EXCEEDED"
)

// State is the payment lifecycle state.
type State string

const (
	StatePending  State = "pending"
	StateCaptured State = "captured"
	StateRefunded State = "refunded"
	StateDeclined State = "declined"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further input changes the state.
func (s State) IsTerminal() bool {
	return s == StateRefunded || s == StateDeclined
}

// CommandType names a payment command.
type CommandType string

const (
	CommandCapture CommandType = "payment.capture"
	CommandDecline CommandType = "payment.decline"
	CommandRefund  CommandType = "payment.refund"
)

// Command is a payment input. Amount is in minor units.
type Command struct {
	Type   CommandType `json:"type"`
	Amount int64       `json:"amount,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Name implements mealy.Named.
func (c Command) Name() string { return string(c.Type) }

// EventType names a payment event.
type EventType string

const (
	EventCaptured EventType = "payment.captured"
	EventDeclined EventType = "payment.declined"
	EventRefunded EventType = "payment.refunded"
)

// Event is a payment fact.
type Event struct {
	Type   EventType `json:"type"`
	Amount int64     `json:"amount,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// EventType implements engine.Event.
func (e Event) EventType() string { return string(e.Type) }

// Model implements mealy.Model for payments. A zero Limit disables the bound.
type Model struct {
	Limit int64
}

var _ mealy.Model[State, Command, Event] = Model{}

// Name implements mealy.Model.
func (Model) Name() string { return AggregateType }

// AllStates implements mealy.Space.
func (Model) AllStates() []State {
	return []State{StatePending, StateCaptured, StateRefunded, StateDeclined}
}

// Initial implements mealy.Space.
func (Model) Initial() State { return StatePending }

// Guard implements mealy.Guard.
func (m Model) Guard(state State, cmd Command) error {
	if cmd.Type != CommandCapture || state != StatePending {
		return nil
	}
	if cmd.Amount <= 0 {
		return mealy.Reject(RejectInvalidAmount, fmt.Sprintf("amount %d must be positive", cmd.Amount))
	}
	if m.Limit > 0 && cmd.Amount > m.Limit {
		return mealy.Reject(RejectLimitExceeded, fmt.Sprintf("amount %d exceeds limit %d", cmd.Amount, m.Limit))
	}
	return nil
}

// Transition implements mealy.Machine.
func (Model) Transition(state State, cmd Command) State {
	switch {
	case cmd.Type == CommandCapture && state == StatePending:
		return StateCaptured
	case cmd.Type == CommandDecline && state == StatePending:
		return StateDeclined
	case cmd.Type == CommandRefund && state == StateCaptured:
		return StateRefunded
	}
	return state
}

// Output implements mealy.Machine.
func (Model) Output(state State, cmd Command) []Event {
	switch {
	case cmd.Type == CommandCapture && state == StatePending:
		return []Event{{Type: EventCaptured, Amount: cmd.Amount}}
	case cmd.Type == CommandDecline && state == StatePending:
		return []Event{{Type: EventDeclined, Reason: cmd.Reason}}
	case cmd.Type == CommandRefund && state == StateCaptured:
		return []Event{{Type: EventRefunded, Reason: cmd.Reason}}
	}
	return nil
}

// Apply implements mealy.Applier.
func (Model) Apply(state State, evt Event) State {
	switch evt.Type {
	case EventCaptured:
		return StateCaptured
	case EventDeclined:
		return StateDeclined
	case EventRefunded:
		return StateRefunded
	}
	return state
}
