package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/platform/logging"
	platformotel "github.com/louisbranch/aggkernel/internal/platform/otel"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/envelope"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/order"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/payment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/shipment"
	"github.com/louisbranch/aggkernel/internal/services/kernel/engine"
	"github.com/louisbranch/aggkernel/internal/services/kernel/storage"
)

var tracer = platformotel.Tracer("aggkernel/saga")

// Observer receives saga outcomes. Implementations must not block.
type Observer interface {
	StepCompleted(step Step)
	StepRejected(step Step)
	StepCompensated(step Step)
	Finished(state State)
}

// Coordinator drives sagas over the three participant handlers. Saga events
// are appended to Stream; participant events go through each handler.
type Coordinator struct {
	Orders    *engine.Handler[order.State, order.Command, order.Event]
	Payments  *engine.Handler[payment.State, payment.Command, payment.Event]
	Shipments *engine.Handler[shipment.State, shipment.Command, shipment.Event]
	Stream    storage.Stream
	IDs       identity.Generator
	// StreamName defaults to "saga".
	StreamName string
	Source     string
	Now        func() time.Time
	Logger     *zap.Logger
	Observer   Observer
}

// View is a loaded saga with its participants.
type View struct {
	Record   Record
	Order    mealy.Aggregate[order.State]
	Payment  mealy.Aggregate[payment.State]
	Shipment mealy.Aggregate[shipment.State]
	State    State
}

// Decision is the outcome of a saga command.
type Decision struct {
	SagaID identity.EntityID
	State  State
	// Events holds participant and saga events in append order.
	Events []envelope.EventEnvelope
	// Rejection is the participant rejection that triggered compensation.
	Rejection error
	// Compensated lists the compensated steps in the order they ran.
	Compensated []int
}

// Start opens a saga over the participants in cmd. Zero ids are allocated.
func (c *Coordinator) Start(ctx context.Context, cmd envelope.CommandEnvelope[Participants]) (Decision, error) {
	if err := c.validate(); err != nil {
		return Decision{}, err
	}
	if err := cmd.Validate(); err != nil {
		return Decision{}, err
	}
	p := cmd.Command
	for _, id := range []*identity.EntityID{&p.OrderID, &p.PaymentID, &p.ShipmentID} {
		if id.IsZero() {
			*id = identity.NewEntityID(c.IDs)
		}
	}
	rec := Record{ID: identity.NewEntityID(c.IDs)}
	stored, err := c.emit(ctx, &rec, cmd.Identity, Event{Type: EventStarted, Participants: &p})
	if err != nil {
		return Decision{}, err
	}
	c.log().Info("saga started",
		zap.Stringer("saga_id", rec.ID),
		zap.Stringer("order_id", p.OrderID),
		zap.Stringer("correlation_id", cmd.Identity.CorrelationID),
	)
	return Decision{SagaID: rec.ID, State: StateStarted, Events: stored}, nil
}

// Load folds the saga log and loads every participant.
func (c *Coordinator) Load(ctx context.Context, sagaID identity.EntityID) (View, error) {
	if err := c.validate(); err != nil {
		return View{}, err
	}
	envs, err := c.Stream.ReadAggregate(ctx, c.streamName(), sagaID, 0)
	if err != nil {
		return View{}, fmt.Errorf("read saga %s: %w", sagaID, err)
	}
	if len(envs) == 0 {
		return View{}, fmt.Errorf("saga %s: %w", sagaID, storage.ErrNotFound)
	}
	rec := Record{ID: sagaID}
	for _, env := range envs {
		evt, err := envelope.DecodePayload[Event](env)
		if err != nil {
			return View{}, err
		}
		rec = rec.Apply(evt)
	}

	view := View{Record: rec}
	if view.Order, err = c.Orders.Load(ctx, rec.Participants.OrderID); err != nil {
		return View{}, err
	}
	if view.Payment, err = c.Payments.Load(ctx, rec.Participants.PaymentID); err != nil {
		return View{}, err
	}
	if view.Shipment, err = c.Shipments.Load(ctx, rec.Participants.ShipmentID); err != nil {
		return View{}, err
	}
	view.State = FromAggregates(view.Order.State, view.Payment.State, view.Shipment.State)
	if rec.Failed {
		view.State = StateFailed
	}
	return view, nil
}

// Handle runs the step cmd names. A participant rejection is not an error:
// the saga compensates the completed steps and reports the rejection in the
// decision. Commands that do not apply in the current state return
// ErrInvalidTransition with no side effects.
func (c *Coordinator) Handle(ctx context.Context, sagaID identity.EntityID, cmd envelope.CommandEnvelope[Command]) (Decision, error) {
	if err := c.validate(); err != nil {
		return Decision{}, err
	}
	if err := cmd.Validate(); err != nil {
		return Decision{}, err
	}
	ctx, span := tracer.Start(ctx, "saga.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("saga.id", sagaID.String()),
		attribute.String("saga.command", string(cmd.Command.Type)),
		attribute.String("correlation.id", cmd.Identity.CorrelationID.String()),
	)

	view, err := c.Load(ctx, sagaID)
	if err != nil {
		span.RecordError(err)
		return Decision{}, err
	}
	step, ok := StepFor(cmd.Command.Type)
	if !ok || view.State != step.From {
		err := invalidTransition(sagaID, view.State, string(cmd.Command.Type))
		span.SetAttributes(attribute.String("saga.rejection", string(apperrors.CodeSagaInvalidTransition)))
		return Decision{SagaID: sagaID, State: view.State}, err
	}

	log := c.log().With(zap.Stringer("saga_id", sagaID), zap.Int("step", step.Index))
	rec := view.Record
	participantEvents, err := c.forward(ctx, view, step, cmd)
	if err != nil {
		var domainErr *mealy.DomainError
		if !errors.As(err, &domainErr) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch")
			return Decision{}, err
		}
		log.Info("saga step rejected", zap.String("code", domainErr.Code))
		c.observe(func(o Observer) { o.StepRejected(step) })

		failed, err := c.emit(ctx, &rec, cmd.Identity, Event{
			Type:    EventStepFailed,
			Step:    step.Index,
			Command: string(step.Command),
			Reason:  domainErr.Error(),
		})
		if err != nil {
			return Decision{}, err
		}
		view.Record = rec
		decision, err := c.compensate(ctx, view, cmd.Identity, step.Index, domainErr.Error())
		decision.Events = append(failed, decision.Events...)
		decision.Rejection = domainErr
		return decision, err
	}

	rec.Clock = rec.Clock.Tick(step.Participant)
	sagaEvents := []Event{{Type: EventStepCompleted, Step: step.Index, Command: string(step.Command)}}
	if step.To == StateCompleted {
		sagaEvents = append(sagaEvents, Event{Type: EventCompleted})
	}
	stored, err := c.emit(ctx, &rec, cmd.Identity, sagaEvents...)
	if err != nil {
		// The participant step is committed and the saga state derives from
		// it, so only the log entry is missing.
		log.Warn("saga log append failed", zap.Error(err))
		return Decision{SagaID: sagaID, State: step.To, Events: participantEvents}, err
	}
	log.Debug("saga step completed", zap.String("state", string(step.To)))
	c.observe(func(o Observer) { o.StepCompleted(step) })
	if step.To.IsTerminal() {
		c.observe(func(o Observer) { o.Finished(step.To) })
	}
	return Decision{
		SagaID: sagaID,
		State:  step.To,
		Events: append(participantEvents, stored...),
	}, nil
}

// Compensate undoes the steps before failedStep, latest first. Each inverse
// commits before the next one starts. If an inverse fails the saga latches
// into Failed and is not retried.
func (c *Coordinator) Compensate(ctx context.Context, sagaID identity.EntityID, cause identity.MessageIdentity, failedStep int) (Decision, error) {
	if err := c.validate(); err != nil {
		return Decision{}, err
	}
	ctx, span := tracer.Start(ctx, "saga.compensate")
	defer span.End()
	span.SetAttributes(attribute.String("saga.id", sagaID.String()), attribute.Int("saga.failed_step", failedStep))

	view, err := c.Load(ctx, sagaID)
	if err != nil {
		return Decision{}, err
	}
	return c.compensate(ctx, view, cause, failedStep, "")
}

func (c *Coordinator) compensate(ctx context.Context, view View, cause identity.MessageIdentity, failedStep int, reason string) (Decision, error) {
	sagaID := view.Record.ID
	command := fmt.Sprintf("compensate(%d)", failedStep)
	switch {
	case failedStep < 1 || failedStep > len(steps):
		return Decision{SagaID: sagaID, State: view.State}, invalidTransition(sagaID, view.State, command)
	case view.State.IsTerminal():
		return Decision{SagaID: sagaID, State: view.State}, invalidTransition(sagaID, view.State, command)
	case !view.State.IsCompensating() && completedSteps(view.State) != failedStep-1:
		return Decision{SagaID: sagaID, State: view.State}, invalidTransition(sagaID, view.State, command)
	}

	// A resumed compensation undoes whatever is still in place.
	top := failedStep - 1
	if view.State.IsCompensating() {
		top = len(steps) - 1
	}
	var pending []Step
	for k := top; k >= 1; k-- {
		if needsUndo(view, k) {
			pending = append(pending, steps[k-1])
		}
	}
	if len(pending) == 0 && !view.State.IsCompensating() {
		return Decision{SagaID: sagaID, State: view.State}, nil
	}

	log := c.log().With(zap.Stringer("saga_id", sagaID), zap.Int("failed_step", failedStep))
	rec := view.Record
	decision := Decision{SagaID: sagaID}
	if !view.State.IsCompensating() {
		started, err := c.emit(ctx, &rec, cause, Event{Type: EventCompensationStarted, Step: failedStep, Reason: reason})
		if err != nil {
			return Decision{}, err
		}
		decision.Events = append(decision.Events, started...)
		log.Info("saga compensation started", zap.Int("steps", len(pending)))
	}

	for _, step := range pending {
		undone, err := c.inverse(ctx, view, step, cause, reason)
		if err != nil {
			log.Error("saga compensation failed", zap.Int("step", step.Index), zap.Error(err))
			failed, emitErr := c.emit(ctx, &rec, cause, Event{
				Type:    EventCompensationFailed,
				Step:    step.Index,
				Command: step.Inverse,
				Reason:  err.Error(),
			})
			if emitErr != nil {
				err = errors.Join(err, fmt.Errorf("record compensation failure: %w", emitErr))
			}
			decision.Events = append(decision.Events, failed...)
			decision.State = StateFailed
			c.observe(func(o Observer) { o.Finished(StateFailed) })
			return decision, &Error{
				Code:    apperrors.CodeSagaCompensationFailed,
				SagaID:  sagaID,
				State:   StateFailed,
				Command: step.Inverse,
				Step:    step.Index,
				Cause:   err,
			}
		}
		rec.Clock = rec.Clock.Tick(step.Participant)
		logged, err := c.emit(ctx, &rec, cause, Event{Type: EventStepCompensated, Step: step.Index, Command: step.Inverse})
		if err != nil {
			return decision, err
		}
		decision.Events = append(decision.Events, undone...)
		decision.Events = append(decision.Events, logged...)
		decision.Compensated = append(decision.Compensated, step.Index)
		c.observe(func(o Observer) { o.StepCompensated(step) })
	}

	done, err := c.emit(ctx, &rec, cause, Event{Type: EventCompensated})
	if err != nil {
		return decision, err
	}
	decision.Events = append(decision.Events, done...)
	decision.State = StateCompensated
	log.Info("saga compensated", zap.Ints("steps", decision.Compensated))
	c.observe(func(o Observer) { o.Finished(StateCompensated) })
	return decision, nil
}

// needsUndo reports whether step k's effect is still in place.
func needsUndo(view View, k int) bool {
	switch k {
	case 1:
		return view.Order.State == order.StateValidated
	case 2:
		return view.Payment.State == payment.StateCaptured
	case 3:
		return view.Shipment.State == shipment.StateDispatched
	}
	return false
}

func (c *Coordinator) forward(ctx context.Context, view View, step Step, cmd envelope.CommandEnvelope[Command]) ([]envelope.EventEnvelope, error) {
	p := view.Record.Participants
	switch step.Command {
	case CommandValidateOrder:
		res, err := c.Orders.Handle(ctx, p.OrderID,
			envelope.DeriveCommand(c.IDs, cmd.Identity, order.Command{Type: order.CommandValidate}),
			engine.ExpectVersion(view.Order.Version))
		return res.Events, err
	case CommandProcessPayment:
		res, err := c.Payments.Handle(ctx, p.PaymentID,
			envelope.DeriveCommand(c.IDs, cmd.Identity, payment.Command{Type: payment.CommandCapture, Amount: cmd.Command.Amount}),
			engine.ExpectVersion(view.Payment.Version))
		return res.Events, err
	case CommandShipOrder:
		res, err := c.Shipments.Handle(ctx, p.ShipmentID,
			envelope.DeriveCommand(c.IDs, cmd.Identity, shipment.Command{Type: shipment.CommandDispatch, Carrier: cmd.Command.Carrier}),
			engine.ExpectVersion(view.Shipment.Version))
		return res.Events, err
	case CommandConfirmDelivery:
		res, err := c.Shipments.Handle(ctx, p.ShipmentID,
			envelope.DeriveCommand(c.IDs, cmd.Identity, shipment.Command{Type: shipment.CommandDeliver, Signature: cmd.Command.Signature}),
			engine.ExpectVersion(view.Shipment.Version))
		return res.Events, err
	}
	return nil, invalidTransition(view.Record.ID, view.State, string(step.Command))
}

func (c *Coordinator) inverse(ctx context.Context, view View, step Step, cause identity.MessageIdentity, reason string) ([]envelope.EventEnvelope, error) {
	p := view.Record.Participants
	switch step.Index {
	case 1:
		res, err := c.Orders.Handle(ctx, p.OrderID,
			envelope.DeriveCommand(c.IDs, cause, order.Command{Type: order.CommandCancel, Reason: reason}))
		return res.Events, err
	case 2:
		res, err := c.Payments.Handle(ctx, p.PaymentID,
			envelope.DeriveCommand(c.IDs, cause, payment.Command{Type: payment.CommandRefund, Reason: reason}))
		return res.Events, err
	case 3:
		res, err := c.Shipments.Handle(ctx, p.ShipmentID,
			envelope.DeriveCommand(c.IDs, cause, shipment.Command{Type: shipment.CommandRecall, Reason: reason}))
		return res.Events, err
	}
	return nil, fmt.Errorf("step %d has no inverse", step.Index)
}

// emit appends saga events caused by cause and advances rec on success.
func (c *Coordinator) emit(ctx context.Context, rec *Record, cause identity.MessageIdentity, events ...Event) ([]envelope.EventEnvelope, error) {
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	next := *rec
	envs := make([]envelope.EventEnvelope, 0, len(events))
	for _, evt := range events {
		evt.Clock = next.Clock.Tick(AggregateType)
		evt.TraceID = traceID
		env, err := envelope.DeriveEvent(c.IDs, cause, envelope.EventSpec{
			AggregateID:      rec.ID,
			AggregateType:    AggregateType,
			AggregateVersion: next.Version + 1,
			EventType:        evt.EventType(),
			Payload:          evt,
			Source:           c.Source,
			Version:          "1",
		}, now)
		if err != nil {
			return nil, err
		}
		next = next.Apply(evt)
		envs = append(envs, env)
	}
	stored, err := c.Stream.Append(ctx, c.streamName(), rec.Version, envs)
	if err != nil {
		return nil, err
	}
	*rec = next
	return stored, nil
}

func (c *Coordinator) validate() error {
	if c.Orders == nil || c.Payments == nil || c.Shipments == nil {
		return ErrParticipantsRequired
	}
	if c.Stream == nil {
		return engine.ErrStreamRequired
	}
	if c.IDs == nil {
		return engine.ErrGeneratorRequired
	}
	return nil
}

func (c *Coordinator) streamName() string {
	if c.StreamName != "" {
		return c.StreamName
	}
	return AggregateType
}

func (c *Coordinator) log() *zap.Logger {
	return logging.OrNop(c.Logger)
}

func (c *Coordinator) observe(fn func(Observer)) {
	if c.Observer != nil {
		fn(c.Observer)
	}
}
