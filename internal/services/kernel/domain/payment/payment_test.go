package payment

import (
	"errors"
	"testing"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
)

func newPayment() mealy.Aggregate[State] {
	return mealy.New[State](Model{}, identity.NewEntityID(identity.NewMonotonicGenerator()))
}

func TestCaptureWithinLimit(t *testing.T) {
	m := Model{Limit: 1000}
	next, events, err := mealy.Handle[State, Command, Event](m, newPayment(), Command{Type: CommandCapture, Amount: 1000})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if next.State != StateCaptured || len(events) != 1 || events[0].Amount != 1000 {
		t.Fatalf("next = %+v, events = %+v", next, events)
	}
}

func TestCaptureGuards(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		code   string
	}{
		{name: "zero", amount: 0, code: RejectInvalidAmount},
		{name: "negative", amount: -5, code: RejectInvalidAmount},
		{name: "over limit", amount: 1001, code: RejectLimitExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			agg := newPayment()
			next, _, err := mealy.Handle[State, Command, Event](Model{Limit: 1000}, agg, Command{Type: CommandCapture, Amount: tc.amount})
			var de *mealy.DomainError
			if !errors.As(err, &de) || de.Code != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if next != agg {
				t.Fatal("rejected capture must not change the aggregate")
			}
		})
	}
}

func TestUnboundedWhenLimitZero(t *testing.T) {
	if err := (Model{}).Guard(StatePending, Command{Type: CommandCapture, Amount: 1 << 40}); err != nil {
		t.Fatalf("unexpected guard error: %v", err)
	}
}

func TestRefundOnlyAfterCapture(t *testing.T) {
	m := Model{}
	if next := m.Transition(StatePending, Command{Type: CommandRefund}); next != StatePending {
		t.Fatalf("refund from pending = %s", next)
	}
	captured, _, err := mealy.Handle[State, Command, Event](m, newPayment(), Command{Type: CommandCapture, Amount: 10})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	refunded, events, err := mealy.Handle[State, Command, Event](m, captured, Command{Type: CommandRefund, Reason: "shipping failed"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refunded.State != StateRefunded || events[0].Reason != "shipping failed" {
		t.Fatalf("refunded = %+v, events = %+v", refunded, events)
	}
	if !refunded.State.IsTerminal() {
		t.Fatal("refunded is terminal")
	}
}

func TestDecline(t *testing.T) {
	next, events := mealy.Step[State, Command, Event](Model{}, StatePending, Command{Type: CommandDecline, Reason: "card"})
	if next != StateDeclined || events[0].Type != EventDeclined {
		t.Fatalf("decline = %s, %+v", next, events)
	}
	if got := mealy.Fold[State, Event](Model{}, StatePending, events); got != StateDeclined {
		t.Fatalf("fold = %s", got)
	}
}
