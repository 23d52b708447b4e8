package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

func segment(selector byte, frame uint64) []byte {
	seg := make([]byte, ledproto.SegmentLen)
	ledproto.WriteHeader(seg, selector, frame)
	return seg
}

func TestSimNode_CountsSegmentsPerFrame(t *testing.T) {
	n := newSimNode(1, 0)
	now := time.Now()

	for frame := uint64(1); frame <= 3; frame++ {
		for _, sel := range ledproto.StripSelectors {
			n.handle(segment(sel, frame), now)
		}
		n.handle(ledproto.BuildSync(frame), now.Add(time.Duration(frame)*33*time.Millisecond))
	}

	s := n.snapshot()
	assert.Equal(t, uint64(3), s.Frames)
	assert.Equal(t, uint64(12), s.Segments)
	assert.Equal(t, ledproto.MaxSegments, s.MaxPerFrame)
	assert.Equal(t, uint64(3), s.Syncs)
	assert.Equal(t, 33*time.Millisecond, s.SyncInterval)
	assert.Zero(t, s.Malformed)
}

func TestSimNode_SameFrameByteAfterSyncIsNewFrame(t *testing.T) {
	n := newSimNode(1, 0)
	now := time.Now()

	n.handle(segment(ledproto.SelectAllShow, 256), now)
	n.handle(ledproto.BuildSync(256), now)
	n.handle(segment(ledproto.SelectAllShow, 512), now)

	assert.Equal(t, uint64(2), n.snapshot().Frames)
}

func TestSimNode_Reconfigure(t *testing.T) {
	n := newSimNode(0x0001, 0x0000)

	n.handle(ledproto.BuildReconfig(0x00ab, 0x4321), time.Now())

	s := n.snapshot()
	assert.Equal(t, uint16(0x00ab), s.ID)
	assert.Equal(t, uint16(0x4321), s.Mapping)
	assert.Equal(t, uint64(1), s.Reconfigs)
	assert.Equal(t, "a00ab4321", string(n.beacon()))
}

func TestSimNode_Malformed(t *testing.T) {
	n := newSimNode(1, 0)
	for _, b := range [][]byte{
		{},
		[]byte("hello"),
		[]byte("szzzz"),
		[]byte("ci12"),
		make([]byte, ledproto.SegmentLen-1),
	} {
		n.handle(b, time.Now())
	}
	assert.Equal(t, uint64(5), n.snapshot().Malformed)
}

func TestSimNode_AnnounceAndReceive(t *testing.T) {
	coordinator, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = coordinator.Close() }()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	n := newSimNode(0x0010, 0x0002)
	n.announce(conn, coordinator.LocalAddr().(*net.UDPAddr))

	buf := make([]byte, 64)
	require.NoError(t, coordinator.SetReadDeadline(time.Now().Add(2*time.Second)))
	sz, from, err := coordinator.ReadFromUDP(buf)
	require.NoError(t, err)
	b, err := ledproto.ParseBeacon(buf[:sz])
	require.NoError(t, err)
	assert.Equal(t, ledproto.Beacon{ID: 0x0010, Mapping: 0x0002}, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.receive(ctx, conn)
	}()

	_, err = coordinator.WriteToUDP(segment(ledproto.SelectStrip1, 7), from)
	require.NoError(t, err)
	_, err = coordinator.WriteToUDP(ledproto.BuildSync(7), from)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s := n.snapshot()
		return s.Segments == 1 && s.Syncs == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	_ = conn.Close()
	<-done
}
