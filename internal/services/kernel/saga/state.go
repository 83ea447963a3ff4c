// Package saga coordinates the order, payment, and shipment aggregates as
// one workflow with compensation.
//
// The saga's forward state is never stored. It is derived from the
// participants' states on every load, so recomputing it always reproduces
// the same value. Only the Failed latch, set when a compensation itself
// fails, lives in the saga's own event stream.
package saga

import (
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
)

// State is the saga lifecycle state.
type State string

const (
	StateStarted              State = "started"
	StateStepValidated        State = "step_validated"
	StateStepPaid             State = "step_paid"
	StateStepShipped          State = "step_shipped"
	StateCompleted            State = "completed"
	StateCompensatingShipping State = "compensating_shipping"
	StateCompensatingPayment  State = "compensating_payment"
	StateCompensatingOrder    State = "compensating_order"
	StateCompensated          State = "compensated"
	StateFailed               State = "failed"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether the saga accepts no further commands.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCompensated || s == StateFailed
}

// IsComplete reports whether every step succeeded.
func (s State) IsComplete() bool { return s == StateCompleted }

// IsCompensating reports whether compensation has begun but not finished.
func (s State) IsCompensating() bool {
	return s == StateCompensatingShipping || s == StateCompensatingPayment || s == StateCompensatingOrder
}

// AllStates lists every saga state.
func AllStates() []State {
	return []State{
		StateStarted, StateStepValidated, StateStepPaid, StateStepShipped, StateCompleted,
		StateCompensatingShipping, StateCompensatingPayment, StateCompensatingOrder,
		StateCompensated, StateFailed,
	}
}

// FromAggregates derives the saga state from its participants.
//
// Once any participant reaches a compensated state the saga is unwinding,
// and the state names the latest step whose effect is still in place.
func FromAggregates(o order.State, p payment.State, s shipment.State) State {
	unwinding := o == order.StateCancelled ||
		p == payment.StateRefunded || p == payment.StateDeclined ||
		s == shipment.StateRecalled || s == shipment.StateFailed
	if unwinding {
		switch {
		case s == shipment.StateDispatched:
			return StateCompensatingShipping
		case p == payment.StateCaptured:
			return StateCompensatingPayment
		case o != order.StateCancelled:
			return StateCompensatingOrder
		default:
			return StateCompensated
		}
	}
	switch {
	case s == shipment.StateDelivered:
		return StateCompleted
	case s == shipment.StateDispatched:
		return StateStepShipped
	case p == payment.StateCaptured:
		return StateStepPaid
	case o == order.StateValidated:
		return StateStepValidated
	default:
		return StateStarted
	}
}

// completedSteps is the number of forward steps a state implies.
func completedSteps(s State) int {
	switch s {
	case StateStepValidated:
		return 1
	case StateStepPaid:
		return 2
	case StateStepShipped:
		return 3
	case StateCompleted:
		return 4
	}
	return 0
}
