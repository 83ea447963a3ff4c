package saga

import (
	"errors"
	"fmt"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
)

var (
	// ErrInvalidTransition matches saga commands that do not apply in the
	// saga's current state.
	ErrInvalidTransition = errors.New("saga: invalid transition")
	// ErrCompensationFailed matches compensations that could not complete.
	ErrCompensationFailed = errors.New("saga: compensation failed")
	// ErrParticipantsRequired indicates a coordinator without participant handlers.
	ErrParticipantsRequired = errors.New("saga: participant handlers are required")
)

// Error is a saga-level failure.
type Error struct {
	Code    apperrors.Code
	SagaID  identity.EntityID
	State   State
	Command string
	// Step is the step whose compensation failed, for CompensationFailed.
	Step  int
	Cause error
}

// Error implements error.
func (e *Error) Error() string {
	switch e.Code {
	case apperrors.CodeSagaCompensationFailed:
		return fmt.Sprintf("saga %s: compensation of step %d failed: %v", e.SagaID, e.Step, e.Cause)
	default:
		return fmt.Sprintf("saga %s: %s not valid in %s", e.SagaID, e.Command, e.State)
	}
}

// Unwrap returns the participant failure, if any.
func (e *Error) Unwrap() error { return e.Cause }

// ErrorCode classifies the error.
func (e *Error) ErrorCode() apperrors.Code { return e.Code }

// Is matches the package sentinels by code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidTransition:
		return e.Code == apperrors.CodeSagaInvalidTransition
	case ErrCompensationFailed:
		return e.Code == apperrors.CodeSagaCompensationFailed
	}
	return false
}

func invalidTransition(id identity.EntityID, state State, command string) *Error {
	return &Error{Code: apperrors.CodeSagaInvalidTransition, SagaID: id, State: state, Command: command}
}
