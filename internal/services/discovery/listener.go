// Package discovery receives node beacons and registers the nodes that send
// them.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

const (
	defaultPollInterval = 33 * time.Millisecond
	fullLogInterval     = 10 * time.Second
	maxDatagram         = 64
)

// Registrar is the part of the registry the listener needs.
type Registrar interface {
	Register(addr netip.Addr, b ledproto.Beacon) (*registry.Slot, bool, error)
}

// Config holds listener configuration.
type Config struct {
	// Addr is the local listen address, e.g. ":5701".
	Addr string
	// PollInterval bounds each read so cancellation is seen promptly.
	PollInterval time.Duration
}

// Listener is the beacon receive loop.
type Listener struct {
	cfg       Config
	registrar Registrar

	mu   sync.Mutex
	conn *net.UDPConn

	fullLogged map[netip.Addr]time.Time

	beacons   atomic.Uint64
	malformed atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a listener that registers nodes with r.
func New(cfg Config, r Registrar) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", ledproto.DefaultBasePort+ledproto.DiscoveryPortOffset)
	}
	return &Listener{
		cfg:        cfg,
		registrar:  r,
		fullLogged: make(map[netip.Addr]time.Time),
	}
}

// Listen binds the discovery socket. A bind failure is fatal to the caller.
func (l *Listener) Listen() error {
	addr, err := net.ResolveUDPAddr("udp4", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("invalid discovery address %q: %w", l.cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind discovery socket %s: %w", l.cfg.Addr, err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("🔎 Listening for node beacons")
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *Listener) LocalAddr() *net.UDPAddr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Run handles beacons one at a time until ctx is done. It closes the
// socket on return.
func (l *Listener) Run(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return errors.New("discovery listener not bound")
	}
	defer func() { _ = conn.Close() }()

	buf := make([]byte, maxDatagram)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.PollInterval)); err != nil {
			return fmt.Errorf("discovery read deadline: %w", err)
		}
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Msg("discovery read failed")
			continue
		}
		l.handle(from.Addr(), buf[:n], time.Now())
	}
}

func (l *Listener) handle(from netip.Addr, payload []byte, now time.Time) {
	b, err := ledproto.ParseBeacon(payload)
	if err != nil {
		l.malformed.Add(1)
		return
	}
	l.beacons.Add(1)

	slot, created, err := l.registrar.Register(from, b)
	switch {
	case errors.Is(err, registry.ErrRegistryFull):
		l.rejected.Add(1)
		if last, ok := l.fullLogged[from]; !ok || now.Sub(last) >= fullLogInterval {
			l.fullLogged[from] = now
			log.Warn().Str("addr", from.String()).Msg("⚠️ Node registry full, beacon ignored")
		}
	case err != nil:
		l.rejected.Add(1)
		log.Error().Err(err).Str("addr", from.String()).Msg("❌ Failed to register node")
	case !created:
		slot.MarkSeen(now)
	}
}

// Stats is a snapshot of the listener counters.
type Stats struct {
	Beacons   uint64 `json:"beacons"`
	Malformed uint64 `json:"malformed"`
	Rejected  uint64 `json:"rejected"`
}

// Stats returns the listener counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Beacons:   l.beacons.Load(),
		Malformed: l.malformed.Load(),
		Rejected:  l.rejected.Load(),
	}
}
