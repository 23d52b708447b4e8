package registry

import (
	"fmt"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

// Conn is the dedicated outbound datagram connection of one node.
type Conn interface {
	Write(b []byte) (int, error)
	Close() error
}

// Slot is the coordinator's record of one registered node. The address and
// index never change; identifier and mapping can be reconfigured.
type Slot struct {
	index int
	addr  netip.Addr
	conn  Conn

	// id<<16 | mapping
	identity atomic.Uint32

	// packets[frame&1] is written while generating frame and read by the
	// node's sender when that frame is dispatched.
	packets [2]*ledproto.Packet

	registeredAt time.Time
	lastSeen     atomic.Int64
}

func newSlot(index int, addr netip.Addr, conn Conn, b ledproto.Beacon, now time.Time) *Slot {
	s := &Slot{
		index:        index,
		addr:         addr,
		conn:         conn,
		packets:      [2]*ledproto.Packet{ledproto.NewPacket(), ledproto.NewPacket()},
		registeredAt: now,
	}
	s.setIdentity(b.ID, b.Mapping)
	s.lastSeen.Store(now.UnixNano())
	return s
}

// Index returns the stable slot number.
func (s *Slot) Index() int { return s.index }

// Label returns the operator-facing name of the slot: A, B, C...
func (s *Slot) Label() string {
	if s.index < 26 {
		return string(rune('A' + s.index))
	}
	return fmt.Sprintf("#%d", s.index)
}

// Addr returns the node's network address.
func (s *Slot) Addr() netip.Addr { return s.addr }

// Conn returns the node's dedicated connection.
func (s *Slot) Conn() Conn { return s.conn }

// ID returns the node identifier.
func (s *Slot) ID() uint16 { return uint16(s.identity.Load() >> 16) }

// Mapping returns the node's logical to physical channel mapping.
func (s *Slot) Mapping() uint16 { return uint16(s.identity.Load()) }

func (s *Slot) setIdentity(id, mapping uint16) {
	s.identity.Store(uint32(id)<<16 | uint32(mapping))
}

// Packet returns the buffer that holds the given frame.
func (s *Slot) Packet(frame uint64) *ledproto.Packet {
	return s.packets[frame&1]
}

// RegisteredAt returns when the node was first seen.
func (s *Slot) RegisteredAt() time.Time { return s.registeredAt }

// LastSeen returns when the node last announced itself.
func (s *Slot) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// MarkSeen records a beacon from the node.
func (s *Slot) MarkSeen(t time.Time) { s.lastSeen.Store(t.UnixNano()) }
