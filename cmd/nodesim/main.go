// Command nodesim stands in for an LED strip node on a bench: it announces
// itself to the coordinator, counts the pixel segments and sync triggers it
// receives, and applies reconfiguration messages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

func main() {
	var (
		coordinator = flag.String("coordinator", "127.0.0.1", "coordinator host for beacons")
		basePort    = flag.Int("base-port", ledproto.DefaultBasePort, "port receiving segments, sync and reconfiguration")
		beaconPort  = flag.Int("beacon-port", 0, "coordinator discovery port (0 = base-port+1)")
		idHex       = flag.String("id", "0001", "node identifier, up to four hex digits")
		mappingHex  = flag.String("mapping", "0000", "channel mapping, up to four hex digits")
		interval    = flag.Duration("beacon-interval", time.Second, "time between beacons")
		report      = flag.Duration("report", 5*time.Second, "time between statistics reports")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	id, err := ledproto.ParseHex16(*idHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -id")
	}
	mapping, err := ledproto.ParseHex16(*mappingHex)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -mapping")
	}
	if *beaconPort == 0 {
		*beaconPort = *basePort + ledproto.DiscoveryPortOffset
	}

	target, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", *coordinator, *beaconPort))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid coordinator address")
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: *basePort})
	if err != nil {
		log.Fatal().Err(err).Int("port", *basePort).Msg("failed to bind node socket")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := newSimNode(id, mapping)
	log.Info().
		Str("id", fmt.Sprintf("%04X", id)).
		Str("mapping", fmt.Sprintf("%04X", mapping)).
		Str("coordinator", target.String()).
		Int("port", *basePort).
		Msg("💡 Node simulator started")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		node.receive(ctx, conn)
	}()

	beacons := time.NewTicker(*interval)
	reports := time.NewTicker(*report)
	defer beacons.Stop()
	defer reports.Stop()

	node.announce(conn, target)
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			wg.Wait()
			node.snapshot().log()
			return
		case <-beacons.C:
			node.announce(conn, target)
		case <-reports.C:
			node.snapshot().log()
		}
	}
}

// simNode is the receive-side state of one simulated node.
type simNode struct {
	mu sync.Mutex

	id      uint16
	mapping uint16

	frame        byte
	inFrame      int
	maxPerFrame  int
	frames       uint64
	segments     uint64
	syncs        uint64
	reconfigs    uint64
	malformed    uint64
	lastSync     time.Time
	syncInterval time.Duration
	syncSpan     time.Duration
}

func newSimNode(id, mapping uint16) *simNode {
	return &simNode{id: id, mapping: mapping}
}

func (n *simNode) beacon() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return ledproto.BuildBeacon(ledproto.Beacon{ID: n.id, Mapping: n.mapping})
}

func (n *simNode) announce(conn *net.UDPConn, target *net.UDPAddr) {
	if _, err := conn.WriteToUDP(n.beacon(), target); err != nil {
		log.Warn().Err(err).Msg("beacon send failed")
	}
}

func (n *simNode) receive(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, ledproto.SegmentLen+64)
	for {
		sz, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("node read failed")
			continue
		}
		n.handle(buf[:sz], time.Now())
	}
}

// handle classifies one datagram and updates the counters.
func (n *simNode) handle(b []byte, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch {
	case len(b) == ledproto.SegmentLen:
		hdr, _, err := ledproto.ParseSegment(b)
		if err != nil {
			n.malformed++
			return
		}
		n.segments++
		if n.inFrame == 0 || hdr.Frame != n.frame {
			n.frame = hdr.Frame
			n.inFrame = 0
			n.frames++
		}
		n.inFrame++
		if n.inFrame > n.maxPerFrame {
			n.maxPerFrame = n.inFrame
		}

	case len(b) > 0 && b[0] == ledproto.SyncPrefix:
		if _, err := ledproto.ParseSync(b); err != nil {
			n.malformed++
			return
		}
		if !n.lastSync.IsZero() {
			n.syncSpan += now.Sub(n.lastSync)
			n.syncInterval = n.syncSpan / time.Duration(n.syncs)
		}
		n.syncs++
		n.lastSync = now
		// the next segment starts a new frame
		n.inFrame = 0

	case len(b) >= len(ledproto.ReconfigPrefix) && string(b[:len(ledproto.ReconfigPrefix)]) == ledproto.ReconfigPrefix:
		rc, err := ledproto.ParseReconfig(b)
		if err != nil {
			n.malformed++
			return
		}
		n.id, n.mapping = rc.ID, rc.Mapping
		n.reconfigs++
		log.Info().
			Str("id", fmt.Sprintf("%04X", rc.ID)).
			Str("mapping", fmt.Sprintf("%04X", rc.Mapping)).
			Msg("🔧 Node reconfigured")

	default:
		n.malformed++
	}
}

type nodeStats struct {
	ID           uint16
	Mapping      uint16
	Frames       uint64
	Segments     uint64
	MaxPerFrame  int
	Syncs        uint64
	SyncInterval time.Duration
	Reconfigs    uint64
	Malformed    uint64
}

func (n *simNode) snapshot() nodeStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return nodeStats{
		ID:           n.id,
		Mapping:      n.mapping,
		Frames:       n.frames,
		Segments:     n.segments,
		MaxPerFrame:  n.maxPerFrame,
		Syncs:        n.syncs,
		SyncInterval: n.syncInterval,
		Reconfigs:    n.reconfigs,
		Malformed:    n.malformed,
	}
}

func (s nodeStats) log() {
	log.Info().
		Str("id", fmt.Sprintf("%04X", s.ID)).
		Uint64("frames", s.Frames).
		Uint64("segments", s.Segments).
		Int("max_per_frame", s.MaxPerFrame).
		Uint64("syncs", s.Syncs).
		Dur("sync_interval", s.SyncInterval).
		Uint64("malformed", s.Malformed).
		Msg("📊 Node stats")
}
