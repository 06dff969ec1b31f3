package mixer

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Producer accepts decoded samples without blocking
type Producer interface {
	Push(samples []float32) int
}

// NopProducer discards everything. It stands in for a mixer source when no
// audio device is available.
type NopProducer struct{}

// Push drops samples and reports them as written
func (NopProducer) Push(samples []float32) int {
	return len(samples)
}

// Source is one input of the mixer. The producing pipeline writes to it through
// Push; the mixer reads it on every tick while it is active.
type Source struct {
	id       uuid.UUID
	label    string
	capacity int
	ring     atomic.Pointer[Ring]
	active   atomic.Bool
	dropped  atomic.Uint64
}

// NewSource creates a source with a fresh ring of the given capacity
func NewSource(label string, capacity int, active bool) *Source {
	s := &Source{
		id:       uuid.New(),
		label:    label,
		capacity: capacity,
	}
	s.ring.Store(NewRing(capacity))
	s.active.Store(active)
	return s
}

// ID returns the source identifier
func (s *Source) ID() uuid.UUID {
	return s.id
}

// Label returns the human readable name of the source
func (s *Source) Label() string {
	return s.label
}

// Push writes samples into the current ring. Samples that do not fit are
// dropped and counted.
func (s *Source) Push(samples []float32) int {
	n := s.ring.Load().Push(samples)
	if n < len(samples) {
		s.dropped.Add(uint64(len(samples) - n))
	}
	return n
}

// SwapBuffer atomically installs ring and returns the previous one. The mixer
// never reads the previous ring after the swap.
func (s *Source) SwapBuffer(ring *Ring) *Ring {
	return s.ring.Swap(ring)
}

// Reset replaces the ring with an empty one of the original capacity
func (s *Source) Reset() {
	s.SwapBuffer(NewRing(s.capacity))
}

// Activate makes the mixer include this source
func (s *Source) Activate() {
	s.active.Store(true)
}

// Deactivate makes the mixer skip this source
func (s *Source) Deactivate() {
	s.active.Store(false)
}

// IsActive reports whether the source is mixed
func (s *Source) IsActive() bool {
	return s.active.Load()
}

// Buffered returns the number of samples waiting in the current ring
func (s *Source) Buffered() int {
	return s.ring.Load().Len()
}

// Dropped returns the number of samples dropped on overflow
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Source) pop(dst []float32) int {
	return s.ring.Load().Pop(dst)
}
