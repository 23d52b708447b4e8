package dispatch

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
)

// Dispatcher owns one Sender per registered node.
type Dispatcher struct {
	release func(frame uint64)

	mu      sync.RWMutex
	senders map[int]*Sender
	stopped bool
	wg      sync.WaitGroup

	frames atomic.Uint64
}

// New creates a dispatcher. release runs once per dispatched frame after
// every sender of that frame is done.
func New(release func(frame uint64)) *Dispatcher {
	return &Dispatcher{
		release: release,
		senders: make(map[int]*Sender),
	}
}

// Attach starts the sender for a newly registered slot. It is meant to be
// installed as a registry register hook.
func (d *Dispatcher) Attach(slot *registry.Slot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if _, ok := d.senders[slot.Index()]; ok {
		return
	}

	s := newSender(slot)
	d.senders[slot.Index()] = s
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		s.run()
	}()

	log.Debug().Str("slot", slot.Label()).Msg("sender started")
}

// Dispatch hands frame to the senders of slots. An empty snapshot does
// nothing and no sync is released for it.
func (d *Dispatcher) Dispatch(frame uint64, slots []*registry.Slot) {
	if len(slots) == 0 {
		return
	}
	d.frames.Add(1)

	b := NewBarrier(frame, len(slots), d.release)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, slot := range slots {
		s, ok := d.senders[slot.Index()]
		if !ok || d.stopped {
			b.Done()
			continue
		}
		s.deliver(tick{frame: frame, barrier: b})
	}
}

// Sender returns the sender of the slot at index.
func (d *Dispatcher) Sender(index int) (*Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.senders[index]
	return s, ok
}

// Frames returns how many non-empty frames were dispatched.
func (d *Dispatcher) Frames() uint64 { return d.frames.Load() }

// Stats returns the counters of every sender.
func (d *Dispatcher) Stats() []SenderStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := make([]SenderStats, 0, len(d.senders))
	for _, s := range d.senders {
		stats = append(stats, s.Stats())
	}
	slices.SortFunc(stats, func(a, b SenderStats) int { return cmp.Compare(a.Slot, b.Slot) })
	return stats
}

// Stop closes every sender and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	senders := make([]*Sender, 0, len(d.senders))
	for _, s := range d.senders {
		senders = append(senders, s)
	}
	d.mu.Unlock()

	for _, s := range senders {
		s.close()
	}
	d.wg.Wait()
	log.Info().Int("senders", len(senders)).Msg("🛑 Dispatcher stopped")
}
