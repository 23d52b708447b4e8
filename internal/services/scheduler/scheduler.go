// Package scheduler runs the fixed-period tick loop that generates and
// dispatches one frame per tick.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/services/pattern"
	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
)

// DefaultPeriod is the tick period, about 30 frames per second.
const DefaultPeriod = 33 * time.Millisecond

// Source lists the slots to drive on a tick.
type Source interface {
	Active() []*registry.Slot
}

// Generator writes the frame into each target's packet.
type Generator interface {
	Generate(frame uint64, targets []pattern.Target)
}

// Dispatcher sends a generated frame to the given slots.
type Dispatcher interface {
	Dispatch(frame uint64, slots []*registry.Slot)
}

// Scheduler drives the frame counter.
type Scheduler struct {
	period     time.Duration
	source     Source
	generator  Generator
	dispatcher Dispatcher

	frame   atomic.Uint64
	overrun atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a scheduler. A non-positive period uses DefaultPeriod.
func New(period time.Duration, source Source, generator Generator, dispatcher Dispatcher) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{
		period:     period,
		source:     source,
		generator:  generator,
		dispatcher: dispatcher,
	}
}

// Period returns the tick period.
func (s *Scheduler) Period() time.Duration { return s.period }

// Frame returns the number of frames generated so far.
func (s *Scheduler) Frame() uint64 { return s.frame.Load() }

// Overruns returns how many ticks finished generating after their deadline.
func (s *Scheduler) Overruns() uint64 { return s.overrun.Load() }

// Start runs the tick loop in a goroutine until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()

	log.Info().Dur("period", s.period).Msg("⏱️ Frame scheduler started")
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Info().Uint64("frames", s.Frame()).Msg("⏱️ Frame scheduler stopped")
}

// Run executes ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.period)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if !s.tick(ctx, timer) {
			return
		}
	}
}

// tick generates one frame, sleeps until its deadline and dispatches it.
// The slot snapshot is taken before generation so a node registered during
// the tick waits for the next one.
func (s *Scheduler) tick(ctx context.Context, timer *time.Timer) bool {
	slots := s.source.Active()
	deadline := time.Now().Add(s.period)

	frame := s.frame.Load()
	targets := make([]pattern.Target, len(slots))
	for i, slot := range slots {
		targets[i] = pattern.Target{Index: slot.Index(), ID: slot.ID(), Packet: slot.Packet(frame)}
	}
	s.generator.Generate(frame, targets)
	s.frame.Add(1)

	wait := time.Until(deadline)
	if wait <= 0 {
		s.overrun.Add(1)
		wait = 0
	}
	timer.Reset(wait)
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	if len(slots) > 0 {
		s.dispatcher.Dispatch(frame, slots)
	}
	return true
}
