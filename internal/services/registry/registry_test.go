package registry

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeDialer struct {
	mu     sync.Mutex
	dialed []netip.AddrPort
	conns  []*fakeConn
	fail   map[netip.Addr]bool
}

func (d *fakeDialer) Dial(addr netip.AddrPort) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[addr.Addr()] {
		return nil, errors.New("network unreachable")
	}
	d.dialed = append(d.dialed, addr)
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func addr(i int) netip.Addr {
	return netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i))
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{})
	assert.Equal(t, DefaultCapacity, r.Capacity())
	assert.Equal(t, ledproto.DefaultBasePort, r.DataPort())
	assert.Zero(t, r.Count())
	assert.Empty(t, r.Active())
}

func TestRegister_FirstSight(t *testing.T) {
	d := &fakeDialer{}
	r := New(Config{Capacity: 4, DataPort: 5700, Dialer: d})

	var hooked []*Slot
	r.OnRegister(func(s *Slot) { hooked = append(hooked, s) })

	slot, created, err := r.Register(addr(1), ledproto.Beacon{ID: 0x0001, Mapping: 0x0002})
	require.NoError(t, err)
	require.True(t, created)

	assert.Equal(t, 0, slot.Index())
	assert.Equal(t, "A", slot.Label())
	assert.Equal(t, addr(1), slot.Addr())
	assert.Equal(t, uint16(0x0001), slot.ID())
	assert.Equal(t, uint16(0x0002), slot.Mapping())
	assert.Equal(t, []netip.AddrPort{netip.AddrPortFrom(addr(1), 5700)}, d.dialed)
	assert.Equal(t, []*Slot{slot}, hooked, "hook runs once for the new slot")
	assert.Equal(t, 1, r.Count())
	assert.NotSame(t, slot.Packet(0), slot.Packet(1), "frames alternate between two buffers")
	assert.Same(t, slot.Packet(0), slot.Packet(2))
}

func TestRegister_HookMayAddHooks(t *testing.T) {
	r := New(Config{Capacity: 2, Dialer: &fakeDialer{}})
	var late int
	r.OnRegister(func(*Slot) {
		r.OnRegister(func(*Slot) { late++ })
	})

	_, _, err := r.Register(addr(1), ledproto.Beacon{})
	require.NoError(t, err)
	assert.Zero(t, late, "a hook added during registration waits for the next node")

	_, _, err = r.Register(addr(2), ledproto.Beacon{})
	require.NoError(t, err)
	assert.Equal(t, 1, late)
}

func TestRegister_Idempotent(t *testing.T) {
	d := &fakeDialer{}
	r := New(Config{Capacity: 4, Dialer: d})
	hooks := 0
	r.OnRegister(func(*Slot) { hooks++ })

	first, _, err := r.Register(addr(1), ledproto.Beacon{ID: 1, Mapping: 2})
	require.NoError(t, err)

	again, created, err := r.Register(addr(1), ledproto.Beacon{ID: 9, Mapping: 9})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, again)
	assert.Equal(t, uint16(1), again.ID(), "a repeat beacon does not change identity")
	assert.Len(t, d.dialed, 1)
	assert.Equal(t, 1, hooks)
	assert.Equal(t, 1, r.Count())
}

func TestRegister_MappedIPv4IsSameNode(t *testing.T) {
	r := New(Config{Capacity: 2, Dialer: &fakeDialer{}})

	a, _, err := r.Register(netip.MustParseAddr("192.168.1.20"), ledproto.Beacon{})
	require.NoError(t, err)
	b, created, err := r.Register(netip.MustParseAddr("::ffff:192.168.1.20"), ledproto.Beacon{})
	require.NoError(t, err)

	assert.False(t, created)
	assert.Same(t, a, b)
}

func TestRegister_Full(t *testing.T) {
	r := New(Config{Capacity: 3, Dialer: &fakeDialer{}})

	for i := 1; i <= 3; i++ {
		s, created, err := r.Register(addr(i), ledproto.Beacon{ID: uint16(i)})
		require.NoError(t, err)
		require.True(t, created)
		assert.Equal(t, i-1, s.Index(), "lowest free slot is claimed")
	}

	_, _, err := r.Register(addr(4), ledproto.Beacon{})
	require.ErrorIs(t, err, ErrRegistryFull)
	assert.Equal(t, 3, r.Count())

	_, ok := r.Lookup(addr(4))
	assert.False(t, ok)

	// known nodes still resolve when full
	s, created, err := r.Register(addr(2), ledproto.Beacon{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, s.Index())
}

func TestRegister_DialFailureDoesNotClaimSlot(t *testing.T) {
	d := &fakeDialer{fail: map[netip.Addr]bool{addr(1): true}}
	r := New(Config{Capacity: 2, Dialer: d})
	r.OnRegister(func(*Slot) { t.Fatal("hook must not run on failure") })

	_, _, err := r.Register(addr(1), ledproto.Beacon{})
	require.ErrorIs(t, err, ErrSocket)
	assert.Zero(t, r.Count())

	d.fail = nil
	r.hooks = nil
	s, created, err := r.Register(addr(1), ledproto.Beacon{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 0, s.Index())
}

func TestRegister_Concurrent(t *testing.T) {
	r := New(Config{Capacity: 8, Dialer: &fakeDialer{}})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = r.Register(addr(i%8+1), ledproto.Beacon{})
		}(i)
	}
	wg.Wait()

	require.Equal(t, 8, r.Count())
	seen := map[netip.Addr]bool{}
	for i, s := range r.Active() {
		assert.Equal(t, i, s.Index())
		assert.False(t, seen[s.Addr()], "address %s registered twice", s.Addr())
		seen[s.Addr()] = true
	}
}

func TestSlotAccess(t *testing.T) {
	r := New(Config{Capacity: 3, Dialer: &fakeDialer{}})
	_, _, err := r.Register(addr(1), ledproto.Beacon{})
	require.NoError(t, err)

	s, err := r.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, addr(1), s.Addr())

	for _, index := range []int{-1, 1, 3, 100} {
		_, err := r.Slot(index)
		assert.ErrorIs(t, err, ErrSlotNotFound, "index %d", index)
	}
}

func TestForEachActive_IndexOrder(t *testing.T) {
	r := New(Config{Capacity: 5, Dialer: &fakeDialer{}})
	for i := 1; i <= 3; i++ {
		_, _, err := r.Register(addr(i), ledproto.Beacon{})
		require.NoError(t, err)
	}

	var labels []string
	r.ForEachActive(func(s *Slot) { labels = append(labels, s.Label()) })
	assert.Equal(t, []string{"A", "B", "C"}, labels)
}

func TestReconfigure(t *testing.T) {
	r := New(Config{Capacity: 2, Dialer: &fakeDialer{}})
	_, _, err := r.Register(addr(1), ledproto.Beacon{ID: 1, Mapping: 0x1234})
	require.NoError(t, err)

	s, err := r.Reconfigure(0, 0x00ab, 0x4321)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x00ab), s.ID())
	assert.Equal(t, uint16(0x4321), s.Mapping())
	assert.Equal(t, addr(1), s.Addr(), "address never changes")

	_, err = r.Reconfigure(1, 0, 0)
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestClose(t *testing.T) {
	d := &fakeDialer{}
	r := New(Config{Capacity: 2, Dialer: d})
	for i := 1; i <= 2; i++ {
		_, _, err := r.Register(addr(i), ledproto.Beacon{})
		require.NoError(t, err)
	}

	r.Close()

	for _, c := range d.conns {
		assert.True(t, c.closed)
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "A", (&Slot{index: 0}).Label())
	assert.Equal(t, "R", (&Slot{index: 17}).Label())
	assert.Equal(t, "#30", (&Slot{index: 30}).Label())
}

func TestUDPDialer(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()

	target := pc.LocalAddr().(*net.UDPAddr).AddrPort()
	conn, err := UDPDialer{WriteTimeout: 50_000_000}.Dial(target)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("s0001"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "s0001", string(buf[:n]))
}
