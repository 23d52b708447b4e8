package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

type tick struct {
	frame   uint64
	barrier *Barrier
}

// Sender writes one node's segments for every dispatched frame. It owns a
// single-slot mailbox: a tick that arrives before the previous one was
// picked up replaces it, and the replaced tick's barrier is released so
// the sync for that frame still goes out.
//
// A tick's segments are copied out of the slot when it is queued, so the
// generator may redraw that slot buffer while the copy is still on the wire.
type Sender struct {
	slot *registry.Slot

	mu      sync.Mutex
	cond    *sync.Cond
	pending *tick
	closed  bool

	// staged holds the pending tick's segments and is written under mu;
	// inflight is owned by run.
	staged   *ledproto.Packet
	inflight *ledproto.Packet

	sent     atomic.Uint64
	errors   atomic.Uint64
	dropped  atomic.Uint64
	lastSent atomic.Uint64

	done chan struct{}
}

// SenderStats is a snapshot of a sender's counters.
type SenderStats struct {
	Slot      int    `json:"slot"`
	Frames    uint64 `json:"frames"`
	Errors    uint64 `json:"errors"`
	Dropped   uint64 `json:"dropped"`
	LastFrame uint64 `json:"lastFrame"`
}

func newSender(slot *registry.Slot) *Sender {
	s := &Sender{
		slot:     slot,
		staged:   ledproto.NewPacket(),
		inflight: ledproto.NewPacket(),
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Slot returns the node this sender serves.
func (s *Sender) Slot() *registry.Slot { return s.slot }

// deliver queues a tick without blocking.
func (s *Sender) deliver(t tick) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.barrier.Done()
		return
	}
	old := s.pending
	s.staged.CopyFrom(s.slot.Packet(t.frame))
	s.pending = &t
	s.cond.Signal()
	s.mu.Unlock()

	if old != nil {
		s.dropped.Add(1)
		log.Debug().
			Str("slot", s.slot.Label()).
			Uint64("frame", old.frame).
			Msg("sender busy, frame superseded")
		old.barrier.Done()
	}
}

func (s *Sender) next() (tick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending == nil && !s.closed {
		s.cond.Wait()
	}
	if s.pending == nil {
		return tick{}, false
	}
	t := *s.pending
	s.pending = nil
	s.staged, s.inflight = s.inflight, s.staged
	return t, true
}

func (s *Sender) run() {
	defer close(s.done)
	for {
		t, ok := s.next()
		if !ok {
			return
		}
		s.transmit(t.frame, s.inflight)
		t.barrier.Done()
	}
}

func (s *Sender) transmit(frame uint64, p *ledproto.Packet) {
	conn := s.slot.Conn()
	for i := 0; i < p.Count(); i++ {
		if _, err := conn.Write(p.Segment(i)); err != nil {
			s.errors.Add(1)
			log.Debug().
				Err(err).
				Str("slot", s.slot.Label()).
				Int("segment", i).
				Msg("segment write failed")
		}
	}
	s.sent.Add(1)
	s.lastSent.Store(frame)
}

// close stops the sender. A queued tick is released, not transmitted.
func (s *Sender) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if pending != nil {
		pending.barrier.Done()
	}
}

// Stats returns the sender's counters.
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Slot:      s.slot.Index(),
		Frames:    s.sent.Load(),
		Errors:    s.errors.Load(),
		Dropped:   s.dropped.Load(),
		LastFrame: s.lastSent.Load(),
	}
}
