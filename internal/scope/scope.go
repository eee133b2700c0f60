// Package scope is a visualizer tap: a lock-free ring the audio thread pushes
// decimated samples into and a UI goroutine reads from.
package scope

import (
	"math"
	"math/bits"
	"sync/atomic"
)

// Ring is a single-producer ring of float32 samples. Any number of readers
// may call Snapshot concurrently with Push.
type Ring struct {
	buf  []atomic.Uint32
	mask uint64
	w    atomic.Uint64
}

// New returns a ring holding at least size samples.
func New(size int) *Ring {
	if size < 2 {
		size = 2
	}
	n := 1 << bits.Len(uint(size-1))
	return &Ring{buf: make([]atomic.Uint32, n), mask: uint64(n - 1)}
}

// Len is the ring capacity.
func (r *Ring) Len() int { return len(r.buf) }

// Push appends one sample, overwriting the oldest.
func (r *Ring) Push(v float32) {
	i := r.w.Load()
	r.buf[i&r.mask].Store(math.Float32bits(v))
	r.w.Store(i + 1)
}

// Written is the total number of samples pushed so far.
func (r *Ring) Written() uint64 { return r.w.Load() }

// Snapshot copies the most recent samples into dst, oldest first, and
// returns how many were copied. A sample overwritten mid-copy shows up as
// newer data; there is no tearing of individual values.
func (r *Ring) Snapshot(dst []float32) int {
	end := r.w.Load()
	n := uint64(len(dst))
	if n > uint64(len(r.buf)) {
		n = uint64(len(r.buf))
	}
	if n > end {
		n = end
	}
	start := end - n
	for k := uint64(0); k < n; k++ {
		dst[k] = math.Float32frombits(r.buf[(start+k)&r.mask].Load())
	}
	return int(n)
}

// Tap decimates a sample stream into a Ring. It belongs to the producer.
type Tap struct {
	ring     *Ring
	decimate int
	count    int
}

// NewTap keeps every decimate-th sample.
func NewTap(ring *Ring, decimate int) *Tap {
	if decimate < 1 {
		decimate = 1
	}
	return &Tap{ring: ring, decimate: decimate}
}

// Feed offers one sample.
func (t *Tap) Feed(v float32) {
	if t == nil || t.ring == nil {
		return
	}
	t.count++
	if t.count >= t.decimate {
		t.count = 0
		t.ring.Push(v)
	}
}
