// Package analysis inspects an aggregate's finite state machine. It is
// read-only tooling and is never called on the command path.
package analysis

import (
	"slices"

	"github.com/louisbranch/aggkernel/internal/services/kernel/domain/mealy"
)

// Transitioner is the part of a machine analysis needs.
type Transitioner[S mealy.State, I any] interface {
	mealy.Space[S]
	Transition(state S, input I) S
}

// Edge is one labelled transition.
type Edge[S mealy.State, I any] struct {
	From  S
	Input I
	To    S
}

// Graph returns every state-changing edge over the given input alphabet, in
// AllStates then alphabet order. Self-loops are omitted.
func Graph[S mealy.State, I any](m Transitioner[S, I], alphabet []I) []Edge[S, I] {
	var edges []Edge[S, I]
	for _, from := range m.AllStates() {
		for _, input := range alphabet {
			if to := m.Transition(from, input); to != from {
				edges = append(edges, Edge[S, I]{From: from, Input: input, To: to})
			}
		}
	}
	return edges
}

// Reachable returns the states reachable from Initial, in AllStates order.
func Reachable[S mealy.State, I any](m Transitioner[S, I], alphabet []I) []S {
	seen := map[S]bool{m.Initial(): true}
	frontier := []S{m.Initial()}
	for len(frontier) > 0 {
		state := frontier[0]
		frontier = frontier[1:]
		for _, input := range alphabet {
			next := m.Transition(state, input)
			if !seen[next] {
				seen[next] = true
				frontier = append(frontier, next)
			}
		}
	}
	var out []S
	for _, state := range m.AllStates() {
		if seen[state] {
			out = append(out, state)
		}
	}
	return out
}

// Unreachable returns declared states no input sequence reaches.
func Unreachable[S mealy.State, I any](m Transitioner[S, I], alphabet []I) []S {
	reachable := Reachable(m, alphabet)
	var out []S
	for _, state := range m.AllStates() {
		if !slices.Contains(reachable, state) {
			out = append(out, state)
		}
	}
	return out
}

// DeadEnds returns non-terminal states with no outgoing edge.
func DeadEnds[S mealy.State, I any](m Transitioner[S, I], alphabet []I) []S {
	var out []S
	for _, state := range m.AllStates() {
		if state.IsTerminal() {
			continue
		}
		stuck := true
		for _, input := range alphabet {
			if m.Transition(state, input) != state {
				stuck = false
				break
			}
		}
		if stuck {
			out = append(out, state)
		}
	}
	return out
}

// TerminalsEscape returns terminal states that some input leaves. A correct
// machine returns none.
func TerminalsEscape[S mealy.State, I any](m Transitioner[S, I], alphabet []I) []S {
	var out []S
	for _, state := range m.AllStates() {
		if !state.IsTerminal() {
			continue
		}
		for _, input := range alphabet {
			if m.Transition(state, input) != state {
				out = append(out, state)
				break
			}
		}
	}
	return out
}
