// Package dispatch hands each generated frame to the per-node senders and
// fires the sync trigger once all of them are done.
package dispatch

import "sync/atomic"

// Barrier counts down the senders of one frame. The Done call that brings
// the count to zero runs release exactly once.
type Barrier struct {
	frame     uint64
	remaining atomic.Int64
	release   func(frame uint64)
}

// NewBarrier creates a barrier for n senders. A barrier with n <= 0 never
// releases.
func NewBarrier(frame uint64, n int, release func(frame uint64)) *Barrier {
	b := &Barrier{frame: frame, release: release}
	b.remaining.Store(int64(n))
	return b
}

// Frame returns the frame number the barrier guards.
func (b *Barrier) Frame() uint64 { return b.frame }

// Remaining returns the number of senders not yet done.
func (b *Barrier) Remaining() int {
	n := b.remaining.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Done marks one sender finished.
func (b *Barrier) Done() {
	if b.remaining.Add(-1) == 0 && b.release != nil {
		b.release(b.frame)
	}
}
