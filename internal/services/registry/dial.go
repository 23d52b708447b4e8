package registry

import (
	"net"
	"net/netip"
	"time"
)

// UDPDialer connects a UDP socket to each node. When WriteTimeout is set,
// every write is bounded by it so a stuck socket cannot stall a tick.
type UDPDialer struct {
	WriteTimeout time.Duration
}

// Dial implements Dialer.
func (d UDPDialer) Dial(addr netip.AddrPort) (Conn, error) {
	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(addr))
	if err != nil {
		return nil, err
	}
	if d.WriteTimeout <= 0 {
		return conn, nil
	}
	return &deadlineConn{UDPConn: conn, timeout: d.WriteTimeout}, nil
}

type deadlineConn struct {
	*net.UDPConn
	timeout time.Duration
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if err := c.UDPConn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.UDPConn.Write(b)
}
