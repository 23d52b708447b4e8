// Package ledproto provides the UDP wire formats spoken between the swarm
// coordinator and LED strip nodes.
package ledproto

const (
	// LEDCount is the number of pixels carried by one segment.
	LEDCount = 200
	// SegmentHeaderLen is the selector byte plus the frame byte.
	SegmentHeaderLen = 2
	// SegmentLen is the total size of a pixel segment on the wire.
	SegmentLen = SegmentHeaderLen + 3*LEDCount
	// MaxSegments is the number of physical strips a node can drive.
	MaxSegments = 4
	// DefaultBasePort carries pixel data, sync triggers and reconfiguration.
	DefaultBasePort = 5700
	// DiscoveryPortOffset is added to the base port for node beacons.
	DiscoveryPortOffset = 1
)

// Segment selectors. The strip selectors form a bitmask; SelectAllShow tells
// the node to apply the segment to every strip and show it.
const (
	SelectStrip1  byte = 0x01
	SelectStrip2  byte = 0x02
	SelectStrip3  byte = 0x04
	SelectStrip4  byte = 0x08
	SelectAllShow byte = 0x0f
)

// StripSelectors lists the single-strip selectors in segment order.
var StripSelectors = [MaxSegments]byte{SelectStrip1, SelectStrip2, SelectStrip3, SelectStrip4}

// Packet is the outgoing buffer of one node for one tick: up to MaxSegments
// fixed-length segments stored back to back, plus the number written.
type Packet struct {
	data  []byte
	count int
}

// NewPacket allocates a packet large enough for MaxSegments segments.
func NewPacket() *Packet {
	return &Packet{data: make([]byte, MaxSegments*SegmentLen)}
}

// Segment returns the i-th segment slice, or nil when i is out of range.
func (p *Packet) Segment(i int) []byte {
	if i < 0 || i >= MaxSegments {
		return nil
	}
	return p.data[i*SegmentLen : (i+1)*SegmentLen]
}

// Clear zeroes the first n segments. Bytes past them are left untouched.
func (p *Packet) Clear(n int) {
	n = clampSegments(n)
	clear(p.data[:n*SegmentLen])
}

// SetCount records how many segments the current tick wrote.
func (p *Packet) SetCount(n int) {
	p.count = clampSegments(n)
}

// Count returns the number of segments to transmit.
func (p *Packet) Count() int {
	return p.count
}

// Bytes returns the written segments as one contiguous slice.
func (p *Packet) Bytes() []byte {
	return p.data[:p.count*SegmentLen]
}

// CopyFrom replaces p's written segments with those of src.
func (p *Packet) CopyFrom(src *Packet) {
	p.count = src.count
	copy(p.data, src.Bytes())
}

// WriteHeader stamps a segment with its selector and the frame number
// truncated to one byte.
func WriteHeader(segment []byte, selector byte, frame uint64) {
	segment[0] = selector
	segment[1] = byte(frame)
}

// Pixels returns the RGB payload of a segment.
func Pixels(segment []byte) []byte {
	return segment[SegmentHeaderLen:SegmentLen]
}

// SegmentHeader is the decoded two-byte header of a pixel segment.
type SegmentHeader struct {
	Selector byte
	Frame    byte
}

// ParseSegment decodes a received pixel segment.
func ParseSegment(b []byte) (SegmentHeader, []byte, error) {
	if len(b) != SegmentLen {
		return SegmentHeader{}, nil, malformed("segment", "length %d, want %d", len(b), SegmentLen)
	}
	return SegmentHeader{Selector: b[0], Frame: b[1]}, b[SegmentHeaderLen:], nil
}

func clampSegments(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxSegments {
		return MaxSegments
	}
	return n
}
