package analysis

import (
	"reflect"
	"testing"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
)

func orderAlphabet() []order.Command {
	return []order.Command{
		{Type: order.CommandValidate},
		{Type: order.CommandPay},
		{Type: order.CommandShip},
		{Type: order.CommandDeliver},
		{Type: order.CommandCancel},
	}
}

func TestOrderGraph(t *testing.T) {
	edges := Graph[order.State, order.Command](order.Model{}, orderAlphabet())
	// four forward edges plus cancel from each of the four non-terminal states
	if len(edges) != 8 {
		t.Fatalf("edges = %d, want 8: %+v", len(edges), edges)
	}
	if edges[0].From != order.StateCreated || edges[0].To != order.StateValidated {
		t.Fatalf("first edge = %+v", edges[0])
	}
}

func TestOrderReachability(t *testing.T) {
	m := order.Model{}
	got := Reachable[order.State, order.Command](m, orderAlphabet())
	if !reflect.DeepEqual(got, m.AllStates()) {
		t.Fatalf("reachable = %v", got)
	}
	if un := Unreachable[order.State, order.Command](m, orderAlphabet()); len(un) != 0 {
		t.Fatalf("unreachable = %v", un)
	}
	if dead := DeadEnds[order.State, order.Command](m, orderAlphabet()); len(dead) != 0 {
		t.Fatalf("dead ends = %v", dead)
	}
	if escape := TerminalsEscape[order.State, order.Command](m, orderAlphabet()); len(escape) != 0 {
		t.Fatalf("terminals escape = %v", escape)
	}
}

func TestPartialAlphabetFindsGaps(t *testing.T) {
	m := payment.Model{}
	alphabet := []payment.Command{{Type: payment.CommandCapture, Amount: 1}}
	if got := Unreachable[payment.State, payment.Command](m, alphabet); !reflect.DeepEqual(got, []payment.State{payment.StateRefunded, payment.StateDeclined}) {
		t.Fatalf("unreachable = %v", got)
	}
	if got := DeadEnds[payment.State, payment.Command](m, alphabet); !reflect.DeepEqual(got, []payment.State{payment.StateCaptured}) {
		t.Fatalf("dead ends = %v", got)
	}
}

func TestShipmentTerminalsHold(t *testing.T) {
	alphabet := []shipment.Command{
		{Type: shipment.CommandDispatch, Carrier: "ups"},
		{Type: shipment.CommandDeliver, Signature: "x"},
		{Type: shipment.CommandRecall},
		{Type: shipment.CommandFail},
	}
	if got := TerminalsEscape[shipment.State, shipment.Command](shipment.Model{}, alphabet); len(got) != 0 {
		t.Fatalf("terminals escape = %v", got)
	}
}
