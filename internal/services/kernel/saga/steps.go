package saga

import (
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
)

// CommandType names a saga command.
type CommandType string

const (
	CommandValidateOrder   CommandType = "saga.validate_order"
	CommandProcessPayment  CommandType = "saga.process_payment"
	CommandShipOrder       CommandType = "saga.ship_order"
	CommandConfirmDelivery CommandType = "saga.confirm_delivery"
)

// Command is a saga input. Amount applies to ProcessPayment, Carrier to
// ShipOrder, and Signature to ConfirmDelivery.
type Command struct {
	Type      CommandType `json:"type"`
	Amount    int64       `json:"amount,omitempty"`
	Carrier   string      `json:"carrier,omitempty"`
	Signature string      `json:"signature,omitempty"`
}

// Name implements mealy.Named.
func (c Command) Name() string { return string(c.Type) }

// Step describes one forward step and its inverse.
type Step struct {
	Index       int
	Command     CommandType
	Participant string
	// From is the saga state the step applies in; To is the state it leads to.
	From, To State
	// Inverse names the participant command that undoes the step. Empty when
	// the step has no inverse.
	Inverse string
}

var steps = []Step{
	{1, CommandValidateOrder, order.AggregateType, StateStarted, StateStepValidated, string(order.CommandCancel)},
	{2, CommandProcessPayment, payment.AggregateType, StateStepValidated, StateStepPaid, string(payment.CommandRefund)},
	{3, CommandShipOrder, shipment.AggregateType, StateStepPaid, StateStepShipped, string(shipment.CommandRecall)},
	{4, CommandConfirmDelivery, shipment.AggregateType, StateStepShipped, StateCompleted, ""},
}

// Steps returns the forward steps in order.
func Steps() []Step {
	return append([]Step(nil), steps...)
}

// StepFor returns the step a command drives.
func StepFor(cmd CommandType) (Step, bool) {
	for _, s := range steps {
		if s.Command == cmd {
			return s, true
		}
	}
	return Step{}, false
}

// Transition returns the state a successful command leads to, or false when
// the command does not apply in state.
func Transition(state State, cmd CommandType) (State, bool) {
	s, ok := StepFor(cmd)
	if !ok || s.From != state {
		return state, false
	}
	return s.To, true
}
