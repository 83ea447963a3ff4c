// Package vclock provides immutable vector clocks for ordering saga steps
// across participants without physical time.
package vclock

import "maps"

// Ordering is the partial order between two clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Clock maps actor names to logical counters. The zero value is empty.
// Operations return new clocks and never modify their receiver.
type Clock map[string]uint64

// Get returns the counter for actor, zero when absent.
func (c Clock) Get(actor string) uint64 { return c[actor] }

// Tick returns a copy with actor's counter incremented.
func (c Clock) Tick(actor string) Clock {
	next := make(Clock, len(c)+1)
	maps.Copy(next, c)
	next[actor]++
	return next
}

// Merge returns the element-wise maximum of c and other.
func (c Clock) Merge(other Clock) Clock {
	next := make(Clock, max(len(c), len(other)))
	maps.Copy(next, c)
	for actor, n := range other {
		if n > next[actor] {
			next[actor] = n
		}
	}
	return next
}

// Compare reports how c relates to other.
func (c Clock) Compare(other Clock) Ordering {
	le, ge := true, true
	check := func(actor string) {
		a, b := c[actor], other[actor]
		if a > b {
			le = false
		}
		if a < b {
			ge = false
		}
	}
	for actor := range c {
		check(actor)
	}
	for actor := range other {
		check(actor)
	}
	switch {
	case le && ge:
		return Equal
	case le:
		return Before
	case ge:
		return After
	default:
		return Concurrent
	}
}

// HappenedBefore reports whether c causally precedes other.
func (c Clock) HappenedBefore(other Clock) bool { return c.Compare(other) == Before }
