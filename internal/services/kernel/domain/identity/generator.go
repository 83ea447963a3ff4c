package identity

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxCounter is the largest value of the 12-bit rand_a counter.
const maxCounter = 0x0fff

// Generator allocates message ids.
type Generator interface {
	NewID() MessageID
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func() MessageID

// NewID calls f.
func (f GeneratorFunc) NewID() MessageID { return f() }

// MonotonicGenerator allocates UUIDv7 ids that are strictly increasing for
// the lifetime of the generator.
//
// The first 48 bits carry the unix millisecond timestamp and the 12-bit
// rand_a field carries a counter. Within one millisecond the counter
// increments; when it overflows the generator borrows the next millisecond.
// A clock that moves backwards keeps the last issued timestamp. The remaining
// 62 bits come from the entropy reader. When that read fails they are taken
// from a fresh random UUID instead and the failure is reported to the
// WithEntropyFailure hook.
type MonotonicGenerator struct {
	now       func() time.Time
	entropy   io.Reader
	onFailure func(error)

	mu      sync.Mutex
	lastMS  int64
	counter uint16
}

// GeneratorOption configures a MonotonicGenerator.
type GeneratorOption func(*MonotonicGenerator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *MonotonicGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithEntropy overrides the random source for the low bits.
func WithEntropy(r io.Reader) GeneratorOption {
	return func(g *MonotonicGenerator) {
		if r != nil {
			g.entropy = r
		}
	}
}

// WithEntropyFailure registers a hook called whenever the entropy reader
// fails.
func WithEntropyFailure(fn func(error)) GeneratorOption {
	return func(g *MonotonicGenerator) {
		g.onFailure = fn
	}
}

// NewMonotonicGenerator builds a generator on the wall clock and crypto/rand.
func NewMonotonicGenerator(opts ...GeneratorOption) *MonotonicGenerator {
	g := &MonotonicGenerator{now: time.Now, entropy: rand.Reader}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewID returns the next id.
func (g *MonotonicGenerator) NewID() MessageID {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms > g.lastMS {
		g.lastMS = ms
		g.counter = 0
	} else {
		g.counter++
		if g.counter > maxCounter {
			g.lastMS++
			g.counter = 0
		}
	}
	ms, counter := g.lastMS, g.counter
	g.mu.Unlock()

	var id uuid.UUID
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(ms))
	copy(id[:6], ts[2:])
	if _, err := io.ReadFull(g.entropy, id[8:]); err != nil {
		g.fallbackEntropy(id[8:], err)
	}
	id[6] = 0x70 | byte(counter>>8)
	id[7] = byte(counter)
	id[8] = 0x80 | (id[8] & 0x3f)
	return MessageID(id)
}

func (g *MonotonicGenerator) fallbackEntropy(dst []byte, err error) {
	if g.onFailure != nil {
		g.onFailure(err)
	}
	if fresh, rerr := uuid.NewRandom(); rerr == nil {
		copy(dst, fresh[8:])
	}
}
