// Package envelope wraps commands, queries, and events with their message
// identity and implements the correlation and causation propagation rules.
package envelope

import (
	"fmt"

	apperrors "github.com/louisbranch/aggkernel/internal/platform/errors"
	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"
)

// CommandEnvelope carries a command and its identity.
type CommandEnvelope[C any] struct {
	Identity identity.MessageIdentity `json:"identity"`
	Command  C                        `json:"command"`
	// IssuedBy optionally names the actor that submitted the command.
	IssuedBy string `json:"issued_by,omitempty"`
}

// WrapCommand pairs a payload with an existing identity.
func WrapCommand[C any](payload C, id identity.MessageIdentity) CommandEnvelope[C] {
	return CommandEnvelope[C]{Identity: id, Command: payload}
}

// NewCommand wraps payload as the root of a new flow.
func NewCommand[C any](gen identity.Generator, payload C) CommandEnvelope[C] {
	return WrapCommand(payload, identity.NewRoot(gen))
}

// DeriveCommand wraps payload as a command caused by the message with
// identity cause. The cause may be a command, a query, or an event.
func DeriveCommand[C any](gen identity.Generator, cause identity.MessageIdentity, payload C) CommandEnvelope[C] {
	return WrapCommand(payload, cause.Derive(gen))
}

// Validate checks the envelope is addressable.
func (e CommandEnvelope[C]) Validate() error {
	return validateIdentity("command", e.Identity)
}

// QueryEnvelope carries a query and its identity.
type QueryEnvelope[Q any] struct {
	Identity identity.MessageIdentity `json:"identity"`
	Query    Q                        `json:"query"`
}

// WrapQuery pairs a payload with an existing identity.
func WrapQuery[Q any](payload Q, id identity.MessageIdentity) QueryEnvelope[Q] {
	return QueryEnvelope[Q]{Identity: id, Query: payload}
}

// NewQuery wraps payload as the root of a new flow.
func NewQuery[Q any](gen identity.Generator, payload Q) QueryEnvelope[Q] {
	return WrapQuery(payload, identity.NewRoot(gen))
}

// DeriveQuery wraps payload as a query caused by cause.
func DeriveQuery[Q any](gen identity.Generator, cause identity.MessageIdentity, payload Q) QueryEnvelope[Q] {
	return WrapQuery(payload, cause.Derive(gen))
}

// Validate checks the envelope is addressable.
func (e QueryEnvelope[Q]) Validate() error {
	return validateIdentity("query", e.Identity)
}

func validateIdentity(kind string, id identity.MessageIdentity) error {
	if id.MessageID.IsZero() || id.CorrelationID.IsZero() || id.CausationID.IsZero() {
		return apperrors.New(apperrors.CodeEnvelopeInvalid, fmt.Sprintf("%s envelope identity is incomplete", kind))
	}
	return nil
}
