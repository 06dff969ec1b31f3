// Package mixer sums audio from many producers into one output ring that an
// audio device drains. All sample paths are lock-free.
package mixer

import (
	"sync/atomic"
)

// Ring is a single-producer single-consumer float32 ring buffer. Push must only
// be called from one goroutine and Pop from one (possibly different) goroutine.
type Ring struct {
	buf  []float32
	head atomic.Uint64 // total samples written
	tail atomic.Uint64 // total samples read
}

// NewRing creates a ring holding up to capacity samples
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float32, capacity)}
}

// Cap returns the ring capacity in samples
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Len returns the number of samples available to Pop
func (r *Ring) Len() int {
	return int(r.head.Load() - r.tail.Load())
}

// Free returns the number of samples Push can accept
func (r *Ring) Free() int {
	return len(r.buf) - r.Len()
}

// Push copies as many samples as fit and returns the count written. It never
// blocks; samples that do not fit are dropped by the caller.
func (r *Ring) Push(samples []float32) int {
	head := r.head.Load()
	tail := r.tail.Load()
	capacity := uint64(len(r.buf))

	free := capacity - (head - tail)
	n := uint64(len(samples))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	start := head % capacity
	first := capacity - start
	if first > n {
		first = n
	}
	copy(r.buf[start:start+first], samples[:first])
	copy(r.buf[:n-first], samples[first:n])

	r.head.Store(head + n)
	return int(n)
}

// Pop copies up to len(dst) samples into dst and returns the count read
func (r *Ring) Pop(dst []float32) int {
	tail := r.tail.Load()
	head := r.head.Load()
	capacity := uint64(len(r.buf))

	n := head - tail
	if uint64(len(dst)) < n {
		n = uint64(len(dst))
	}
	if n == 0 {
		return 0
	}

	start := tail % capacity
	first := capacity - start
	if first > n {
		first = n
	}
	copy(dst[:first], r.buf[start:start+first])
	copy(dst[first:n], r.buf[:n-first])

	r.tail.Store(tail + n)
	return int(n)
}
