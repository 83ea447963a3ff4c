// Package collection provides monoidal value collections owned by a single
// entity. Combination is associative and the empty collection is its
// identity, so collections can be folded in any grouping.
package collection

// Monoid combines values of type C.
type Monoid[C any] interface {
	Empty() C
	Combine(a, b C) C
}

// Concat folds any number of collections with m, starting from Empty.
func Concat[C any](m Monoid[C], values ...C) C {
	out := m.Empty()
	for _, v := range values {
		out = m.Combine(out, v)
	}
	return out
}

// Sequence is an ordered collection combined by concatenation.
type Sequence[T any] []T

// SequenceMonoid combines sequences by concatenation with [] as identity.
type SequenceMonoid[T any] struct{}

// Empty implements Monoid.
func (SequenceMonoid[T]) Empty() Sequence[T] { return Sequence[T]{} }

// Combine implements Monoid. The result never aliases its inputs.
func (SequenceMonoid[T]) Combine(a, b Sequence[T]) Sequence[T] {
	out := make(Sequence[T], 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// Set is an unordered collection of distinct values combined by union.
type Set[T comparable] map[T]struct{}

// NewSet builds a set from values.
func NewSet[T comparable](values ...T) Set[T] {
	s := make(Set[T], len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Contains reports membership.
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

// Equal reports whether both sets hold the same members.
func (s Set[T]) Equal(other Set[T]) bool {
	if len(s) != len(other) {
		return false
	}
	for v := range s {
		if !other.Contains(v) {
			return false
		}
	}
	return true
}

// SetMonoid combines sets by union with ∅ as identity.
type SetMonoid[T comparable] struct{}

// Empty implements Monoid.
func (SetMonoid[T]) Empty() Set[T] { return Set[T]{} }

// Combine implements Monoid. The result never aliases its inputs.
func (SetMonoid[T]) Combine(a, b Set[T]) Set[T] {
	out := make(Set[T], len(a)+len(b))
	for v := range a {
		out[v] = struct{}{}
	}
	for v := range b {
		out[v] = struct{}{}
	}
	return out
}
