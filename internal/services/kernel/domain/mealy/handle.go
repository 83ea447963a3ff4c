package mealy

import (
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
)

const (
	// RejectInvalidTransition is the rejection code for inputs that produce
	// no events in the current state.
	RejectInvalidTransition = "INVALID_TRANSITION"
	// RejectTerminal is the rejection code for inputs sent to a finished aggregate.
	RejectTerminal = "AGGREGATE_TERMINAL"
)

// DomainError is a business-rule rejection. The aggregate is unchanged.
type DomainError struct {
	Aggregate string
	State     string
	Input     string
	Code      string
	Message   string
}

// Error implements error.
func (e *DomainError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s rejected %s in %s: %s", e.Aggregate, e.Input, e.State, e.Message)
	}
	return fmt.Sprintf("%s rejected %s in %s: %s", e.Aggregate, e.Input, e.State, e.Code)
}

// ErrorCode classifies the rejection.
func (e *DomainError) ErrorCode() apperrors.Code { return apperrors.CodeDomainRejected }

// Reject builds a DomainError for a guard. Handle fills in the aggregate,
// state, and input.
func Reject(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// Handle applies input to agg. It returns the next aggregate and the events
// justifying it, or a *DomainError when the input is rejected. agg is never
// modified.
func Handle[S State, I, E any](m Model[S, I, E], agg Aggregate[S], input I) (Aggregate[S], []E, error) {
	reject := func(code, message string) error {
		return &DomainError{
			Aggregate: m.Name(),
			State:     agg.State.String(),
			Input:     inputName(input),
			Code:      code,
			Message:   message,
		}
	}

	if agg.State.IsTerminal() {
		return agg, nil, reject(RejectTerminal, "")
	}
	if guard, ok := any(m).(Guard[S, I]); ok {
		if err := guard.Guard(agg.State, input); err != nil {
			var de *DomainError
			if errors.As(err, &de) {
				return agg, nil, reject(de.Code, de.Message)
			}
			return agg, nil, err
		}
	}

	next, events := Step[S, I, E](m, agg.State, input)
	if len(events) == 0 {
		return agg, nil, reject(RejectInvalidTransition, "")
	}
	return Aggregate[S]{
		ID:      agg.ID,
		State:   next,
		Version: agg.Version + uint64(len(events)),
	}, events, nil
}

// Fold left-folds events over initial.
func Fold[S State, E any](a Applier[S, E], initial S, events []E) S {
	state := initial
	for _, evt := range events {
		state = a.Apply(state, evt)
	}
	return state
}

// Replay rebuilds an aggregate from its full event history.
func Replay[S State, I, E any](m Model[S, I, E], agg Aggregate[S], events []E) Aggregate[S] {
	return Aggregate[S]{
		ID:      agg.ID,
		State:   Fold[S, E](m, agg.State, events),
		Version: agg.Version + uint64(len(events)),
	}
}

// Named is implemented by inputs that have a stable diagnostic name.
type Named interface {
	Name() string
}

func inputName(input any) string {
	if named, ok := input.(Named); ok {
		return named.Name()
	}
	if s, ok := input.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", input)
}
