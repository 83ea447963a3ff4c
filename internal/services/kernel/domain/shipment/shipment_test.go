package shipment

import (
	"errors"
	"testing"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
)

func TestShipmentLifecycle(t *testing.T) {
	m := Model{}
	agg := mealy.New[State](m, identity.NewEntityID(identity.NewMonotonicGenerator()))
	for _, step := range []struct {
		cmd  Command
		want State
	}{
		{Command{Type: CommandDispatch, Carrier: "ups"}, StateDispatched},
		{Command{Type: CommandDeliver, Signature: "j.doe"}, StateDelivered},
	} {
		next, _, err := mealy.Handle[State, Command, Event](m, agg, step.cmd)
		if err != nil {
			t.Fatalf("%s: %v", step.cmd.Type, err)
		}
		if next.State != step.want {
			t.Fatalf("%s: state = %s, want %s", step.cmd.Type, next.State, step.want)
		}
		agg = next
	}
}

func TestShipmentGuards(t *testing.T) {
	m := Model{}
	tests := []struct {
		state State
		cmd   Command
		code  string
	}{
		{StatePending, Command{Type: CommandDispatch}, RejectCarrierRequired},
		{StateDispatched, Command{Type: CommandDeliver}, RejectSignatureRequired},
	}
	for _, tc := range tests {
		agg := mealy.Aggregate[State]{State: tc.state}
		_, _, err := mealy.Handle[State, Command, Event](m, agg, tc.cmd)
		var de *mealy.DomainError
		if !errors.As(err, &de) || de.Code != tc.code {
			t.Fatalf("%s in %s: expected %s, got %v", tc.cmd.Type, tc.state, tc.code, err)
		}
	}
}

func TestRecallAndFail(t *testing.T) {
	m := Model{}
	if got := m.Transition(StateDispatched, Command{Type: CommandRecall}); got != StateRecalled {
		t.Fatalf("recall from dispatched = %s", got)
	}
	if got := m.Transition(StatePending, Command{Type: CommandRecall}); got != StateRecalled {
		t.Fatalf("recall from pending = %s", got)
	}
	if got := m.Transition(StateDelivered, Command{Type: CommandRecall}); got != StateDelivered {
		t.Fatalf("recall from delivered = %s", got)
	}
	if got := m.Transition(StateDispatched, Command{Type: CommandFail, Reason: "lost"}); got != StateFailed {
		t.Fatalf("fail from dispatched = %s", got)
	}
}

func TestTransitionAgreesWithFold(t *testing.T) {
	m := Model{}
	commands := []Command{
		{Type: CommandDispatch, Carrier: "dhl"},
		{Type: CommandDeliver, Signature: "x"},
		{Type: CommandRecall},
		{Type: CommandFail},
	}
	for _, state := range m.AllStates() {
		for _, cmd := range commands {
			next, events := mealy.Step[State, Command, Event](m, state, cmd)
			if got := mealy.Fold[State, Event](m, state, events); got != next {
				t.Fatalf("%s/%s: fold = %s, transition = %s", state, cmd.Type, got, next)
			}
		}
	}
}
