package kernel

import (
	"errors"
	"fmt"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/analysis"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
	"go.uber.org/zap"
)

// ErrModelUnsound indicates a participant machine failed the pre-flight check.
var ErrModelUnsound = errors.New("participant model is unsound")

// checkModels verifies every participant machine before any command runs.
func checkModels(logger *zap.Logger) error {
	return errors.Join(
		checkModel[order.State, order.Command](logger, order.AggregateType, order.Model{}, []order.Command{
			{Type: order.CommandValidate},
			{Type: order.CommandPay},
			{Type: order.CommandShip},
			{Type: order.CommandDeliver},
			{Type: order.CommandCancel},
		}),
		checkModel[payment.State, payment.Command](logger, payment.AggregateType, payment.Model{}, []payment.Command{
			{Type: payment.CommandCapture, Amount: 1},
			{Type: payment.CommandDecline},
			{Type: payment.CommandRefund},
		}),
		checkModel[shipment.State, shipment.Command](logger, shipment.AggregateType, shipment.Model{}, []shipment.Command{
			{Type: shipment.CommandDispatch, Carrier: "preflight"},
			{Type: shipment.CommandDeliver, Signature: "preflight"},
			{Type: shipment.CommandRecall},
			{Type: shipment.CommandFail},
		}),
	)
}

func checkModel[S mealy.State, I any](logger *zap.Logger, name string, m analysis.Transitioner[S, I], alphabet []I) error {
	unreachable := analysis.Unreachable(m, alphabet)
	dead := analysis.DeadEnds(m, alphabet)
	escape := analysis.TerminalsEscape(m, alphabet)
	if len(unreachable)+len(dead)+len(escape) > 0 {
		return fmt.Errorf("%w: %s unreachable=%v dead_ends=%v terminals_escape=%v", ErrModelUnsound, name, unreachable, dead, escape)
	}
	logger.Debug("model checked",
		zap.String("aggregate", name),
		zap.Int("states", len(m.AllStates())),
		zap.Int("edges", len(analysis.Graph(m, alphabet))),
	)
	return nil
}
