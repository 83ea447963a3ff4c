// Package mealy defines the deterministic transition contract every
// aggregate implements.
//
// An aggregate is a Mealy machine over a finite state space: Transition maps
// (state, input) to the next state and Output maps the same pair to the
// events that justify it. Output is computed from the pre-transition state.
// Both functions are pure and must not block.
package mealy

import "github.com/louisbranch/aggkernel/internal/services/kernel/domain/identity"

// State is a closed, enumerable aggregate state.
type State interface {
	comparable
	String() string
	IsTerminal() bool
}

// Space enumerates a finite state space.
type Space[S State] interface {
	AllStates() []S
	Initial() S
}

// Machine is the transition and output contract.
//
// Transition must be total. When no rule applies to (state, input) it
// returns state unchanged. Output must be deterministic.
type Machine[S State, I, E any] interface {
	Transition(state S, input I) S
	Output(state S, input I) []E
}

// Applier folds one event into state.
type Applier[S State, E any] interface {
	Apply(state S, event E) S
}

// Guard rejects inputs that violate a business rule before the step runs.
// Machines implement it when they have bounds beyond state reachability.
type Guard[S State, I any] interface {
	Guard(state S, input I) error
}

// Model bundles everything an aggregate type provides.
type Model[S State, I, E any] interface {
	Space[S]
	Machine[S, I, E]
	Applier[S, E]
	// Name is the aggregate type name, used in envelopes and errors.
	Name() string
}

// Step runs one Mealy step.
func Step[S State, I, E any](m Machine[S, I, E], state S, input I) (S, []E) {
	events := m.Output(state, input)
	return m.Transition(state, input), events
}

// Identifiable is implemented by anything addressable by entity id.
type Identifiable interface {
	EntityID() identity.EntityID
}

// Aggregate is an aggregate instance. Version counts the events applied to it
// and is the value optimistic concurrency checks compare against.
type Aggregate[S State] struct {
	ID      identity.EntityID `json:"id"`
	State   S                 `json:"state"`
	Version uint64            `json:"version"`
}

// New returns a fresh aggregate in the model's initial state.
func New[S State](space Space[S], id identity.EntityID) Aggregate[S] {
	return Aggregate[S]{ID: id, State: space.Initial()}
}

// EntityID implements Identifiable.
func (a Aggregate[S]) EntityID() identity.EntityID { return a.ID }
