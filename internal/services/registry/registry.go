// Package registry keeps the fixed-capacity table of discovered LED nodes.
package registry

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

// DefaultCapacity is the number of node slots when none is configured.
const DefaultCapacity = 18

var (
	// ErrRegistryFull is returned when a new node arrives and every slot is taken.
	ErrRegistryFull = errors.New("node registry full")
	// ErrSocket wraps failures to open a node's dedicated connection.
	ErrSocket = errors.New("node socket")
	// ErrSlotNotFound is returned for an index that holds no node.
	ErrSlotNotFound = errors.New("slot not found")
)

// Dialer opens the dedicated connection to a node.
type Dialer interface {
	Dial(addr netip.AddrPort) (Conn, error)
}

// Config holds registry configuration.
type Config struct {
	Capacity int
	DataPort int
	Dialer   Dialer
}

// Registry maps node addresses to slots. Slots are allocated by a single
// writer (discovery) and never removed; readers may run concurrently.
type Registry struct {
	// alloc serializes Register so two arrivals never claim the same slot.
	alloc sync.Mutex

	mu     sync.RWMutex
	slots  []*Slot
	byAddr map[netip.Addr]*Slot
	count  int

	dataPort int
	dialer   Dialer
	hooks    []func(*Slot)
	now      func() time.Time
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	port := cfg.DataPort
	if port <= 0 {
		port = ledproto.DefaultBasePort
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = UDPDialer{}
	}

	return &Registry{
		slots:    make([]*Slot, capacity),
		byAddr:   make(map[netip.Addr]*Slot),
		dataPort: port,
		dialer:   dialer,
		now:      time.Now,
	}
}

// OnRegister adds a hook run once for every newly registered slot, after the
// slot is visible to readers.
func (r *Registry) OnRegister(fn func(*Slot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Register returns the slot for addr, creating it on first sight. A known
// address returns its existing slot and created=false with no side effects.
func (r *Registry) Register(addr netip.Addr, b ledproto.Beacon) (slot *Slot, created bool, err error) {
	addr = addr.Unmap()

	r.alloc.Lock()
	defer r.alloc.Unlock()

	if s, ok := r.Lookup(addr); ok {
		return s, false, nil
	}

	r.mu.RLock()
	index := r.freeIndexLocked()
	r.mu.RUnlock()
	if index < 0 {
		return nil, false, fmt.Errorf("%w: %s (capacity %d)", ErrRegistryFull, addr, len(r.slots))
	}

	conn, err := r.dialer.Dial(netip.AddrPortFrom(addr, uint16(r.dataPort)))
	if err != nil {
		return nil, false, fmt.Errorf("%w: dial %s: %v", ErrSocket, addr, err)
	}

	slot = newSlot(index, addr, conn, b, r.now())

	r.mu.Lock()
	r.slots[index] = slot
	r.byAddr[addr] = slot
	r.count++
	hooks := slices.Clone(r.hooks)
	r.mu.Unlock()

	log.Info().
		Str("slot", slot.Label()).
		Str("addr", addr.String()).
		Str("id", fmt.Sprintf("%04X", b.ID)).
		Str("mapping", fmt.Sprintf("%04X", b.Mapping)).
		Msg("💡 New node registered")

	for _, hook := range hooks {
		hook(slot)
	}
	return slot, true, nil
}

func (r *Registry) freeIndexLocked() int {
	for i, s := range r.slots {
		if s == nil {
			return i
		}
	}
	return -1
}

// Lookup returns the slot registered for addr.
func (r *Registry) Lookup(addr netip.Addr) (*Slot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byAddr[addr.Unmap()]
	return s, ok
}

// Slot returns the slot at index.
func (r *Registry) Slot(index int) (*Slot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.slots) || r.slots[index] == nil {
		return nil, fmt.Errorf("%w: %d", ErrSlotNotFound, index)
	}
	return r.slots[index], nil
}

// ForEachActive calls fn for every registered slot in index order.
func (r *Registry) ForEachActive(fn func(*Slot)) {
	for _, s := range r.Active() {
		fn(s)
	}
}

// Active returns a snapshot of the registered slots in index order.
func (r *Registry) Active() []*Slot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	active := make([]*Slot, 0, r.count)
	for _, s := range r.slots {
		if s != nil {
			active = append(active, s)
		}
	}
	return active
}

// Count returns the number of registered slots.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the fixed number of slots.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// DataPort returns the port nodes receive pixel data on.
func (r *Registry) DataPort() int {
	return r.dataPort
}

// Reconfigure updates the identifier and mapping recorded for a slot.
func (r *Registry) Reconfigure(index int, id, mapping uint16) (*Slot, error) {
	s, err := r.Slot(index)
	if err != nil {
		return nil, err
	}
	s.setIdentity(id, mapping)
	return s, nil
}

// Close closes every node connection.
func (r *Registry) Close() {
	for _, s := range r.Active() {
		if err := s.conn.Close(); err != nil {
			log.Debug().Err(err).Str("slot", s.Label()).Msg("node connection close failed")
		}
	}
}
