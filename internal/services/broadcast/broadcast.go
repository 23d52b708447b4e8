// Package broadcast sends the frame-sync trigger that makes every node show
// the segments it received for a tick.
package broadcast

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

// DefaultAddress is the limited broadcast address.
const DefaultAddress = "255.255.255.255"

const triggerQueue = 8

// Config holds broadcaster configuration.
type Config struct {
	Address string
	Port    int
	Dialer  registry.Dialer
}

// Broadcaster owns the broadcast socket and writes one sync message per
// triggered frame.
type Broadcaster struct {
	mu     sync.Mutex
	conn   registry.Conn
	addr   netip.AddrPort
	dialer registry.Dialer

	triggers chan uint64

	sent      atomic.Uint64
	errors    atomic.Uint64
	dropped   atomic.Uint64
	lastFrame atomic.Uint64

	onSync func(frame uint64)
}

// New creates a broadcaster. The socket is opened by Open.
func New(cfg Config) *Broadcaster {
	port := cfg.Port
	if port <= 0 {
		port = ledproto.DefaultBasePort
	}
	address := cfg.Address
	if address == "" {
		address = DefaultAddress
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = registry.UDPDialer{}
	}

	b := &Broadcaster{
		dialer:   dialer,
		triggers: make(chan uint64, triggerQueue),
	}
	if ip, err := netip.ParseAddr(address); err == nil {
		b.addr = netip.AddrPortFrom(ip.Unmap(), uint16(port))
	} else {
		b.addr = netip.AddrPortFrom(netip.IPv4Unspecified(), uint16(port))
		log.Warn().Str("address", address).Msg("invalid broadcast address, sync disabled until reloaded")
	}
	return b
}

// OnSync sets a callback run after every sync write. It must be set before Run.
func (b *Broadcaster) OnSync(fn func(frame uint64)) {
	b.onSync = fn
}

// Open dials the broadcast socket.
func (b *Broadcaster) Open() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}
	return b.dialLocked()
}

func (b *Broadcaster) dialLocked() error {
	if !b.addr.Addr().IsValid() || b.addr.Addr().IsUnspecified() {
		return fmt.Errorf("broadcast address %s not usable", b.addr.Addr())
	}
	conn, err := b.dialer.Dial(b.addr)
	if err != nil {
		return fmt.Errorf("failed to open broadcast socket to %s: %w", b.addr, err)
	}
	b.conn = conn
	log.Info().Str("target", b.addr.String()).Msg("📡 Sync broadcast enabled")
	return nil
}

// Reload points the broadcaster at a new broadcast address.
func (b *Broadcaster) Reload(address string) error {
	ip, err := netip.ParseAddr(address)
	if err != nil {
		return fmt.Errorf("invalid broadcast address %q: %w", address, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	log.Info().
		Str("from", b.addr.Addr().String()).
		Str("to", address).
		Msg("🔄 Reloading sync broadcast address")

	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.addr = netip.AddrPortFrom(ip.Unmap(), b.addr.Port())
	return b.dialLocked()
}

// Address returns the current broadcast target.
func (b *Broadcaster) Address() netip.AddrPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addr
}

// Trigger queues a sync for frame without blocking. It is the release
// callback of the dispatch barrier.
func (b *Broadcaster) Trigger(frame uint64) {
	select {
	case b.triggers <- frame:
	default:
		b.dropped.Add(1)
		log.Debug().Uint64("frame", frame).Msg("sync queue full, trigger dropped")
	}
}

// Run writes a sync for every trigger until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-b.triggers:
			b.send(frame)
		}
	}
}

func (b *Broadcaster) send(frame uint64) {
	msg := ledproto.BuildSync(frame)

	b.mu.Lock()
	conn := b.conn
	var err error
	if conn != nil {
		_, err = conn.Write(msg)
	}
	b.mu.Unlock()

	if conn == nil {
		b.errors.Add(1)
		return
	}
	if err != nil {
		b.errors.Add(1)
		log.Debug().Err(err).Uint64("frame", frame).Msg("sync write failed")
		return
	}
	b.sent.Add(1)
	b.lastFrame.Store(frame)
	if b.onSync != nil {
		b.onSync(frame)
	}
}

// Stats is a snapshot of the broadcaster counters.
type Stats struct {
	Address   string `json:"address"`
	Sent      uint64 `json:"sent"`
	Errors    uint64 `json:"errors"`
	Dropped   uint64 `json:"dropped"`
	LastFrame uint64 `json:"lastFrame"`
}

// Stats returns the broadcaster counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Address:   b.Address().String(),
		Sent:      b.sent.Load(),
		Errors:    b.errors.Load(),
		Dropped:   b.dropped.Load(),
		LastFrame: b.lastFrame.Load(),
	}
}

// Close closes the broadcast socket.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
		log.Info().Msg("📡 Sync broadcast closed")
	}
}
