package ledproto

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// BeaconPrefix starts every node announcement.
	BeaconPrefix byte = 'a'
	// SyncPrefix starts the broadcast "show now" trigger.
	SyncPrefix byte = 's'
	// ReconfigPrefix starts a unicast identifier/mapping change.
	ReconfigPrefix = "ci"
)

// ErrMalformed is returned for any payload that does not match its format.
var ErrMalformed = errors.New("malformed message")

// Beacon is the identity a node announces on the discovery port.
type Beacon struct {
	ID      uint16
	Mapping uint16
}

// ParseBeacon decodes one printable prefix byte followed by eight hex digits:
// four for the identifier, four for the channel mapping. Nodes send
// BeaconPrefix but the prefix is not checked further. Trailing NULs and line
// endings are ignored.
func ParseBeacon(b []byte) (Beacon, error) {
	b = bytes.TrimRight(b, "\x00\r\n ")
	if len(b) != 9 {
		return Beacon{}, malformed("beacon", "length %d", len(b))
	}
	if b[0] <= ' ' || b[0] > '~' {
		return Beacon{}, malformed("beacon", "prefix %q", b[0])
	}
	v, err := parseHex(b[1:])
	if err != nil {
		return Beacon{}, malformed("beacon", "%v", err)
	}
	return Beacon{ID: uint16(v >> 16), Mapping: uint16(v)}, nil
}

// BuildBeacon encodes a node announcement.
func BuildBeacon(b Beacon) []byte {
	return fmt.Appendf(nil, "%c%04x%04x", BeaconPrefix, b.ID, b.Mapping)
}

// BuildSync encodes the frame-sync trigger for the given frame counter.
func BuildSync(frame uint64) []byte {
	return fmt.Appendf(nil, "%c%04x", SyncPrefix, uint16(frame))
}

// ParseSync decodes a sync trigger and returns the frame number mod 65536.
func ParseSync(b []byte) (uint16, error) {
	if len(b) != 5 || b[0] != SyncPrefix {
		return 0, malformed("sync", "%q", b)
	}
	v, err := parseHex(b[1:])
	if err != nil {
		return 0, malformed("sync", "%v", err)
	}
	return uint16(v), nil
}

// BuildReconfig encodes an identifier/mapping change for one node.
func BuildReconfig(id, mapping uint16) []byte {
	return fmt.Appendf(nil, "%s%04X%04X", ReconfigPrefix, id, mapping)
}

// ParseReconfig decodes a reconfiguration message.
func ParseReconfig(b []byte) (Beacon, error) {
	if len(b) != 10 || !bytes.HasPrefix(b, []byte(ReconfigPrefix)) {
		return Beacon{}, malformed("reconfig", "%q", b)
	}
	v, err := parseHex(b[2:])
	if err != nil {
		return Beacon{}, malformed("reconfig", "%v", err)
	}
	return Beacon{ID: uint16(v >> 16), Mapping: uint16(v)}, nil
}

// ParseHex16 parses up to four hex digits, as typed by an operator.
func ParseHex16(s string) (uint16, error) {
	if len(s) == 0 || len(s) > 4 {
		return 0, malformed("hex", "%q", s)
	}
	v, err := parseHex([]byte(s))
	if err != nil {
		return 0, malformed("hex", "%v", err)
	}
	return uint16(v), nil
}

// parseHex accepts only hex digits; strconv alone would also take a sign or
// an 0x prefix.
func parseHex(b []byte) (uint64, error) {
	for _, c := range b {
		if !isHex(c) {
			return 0, fmt.Errorf("non-hex byte %q", c)
		}
	}
	return strconv.ParseUint(string(b), 16, 32)
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func malformed(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, kind, fmt.Sprintf(format, args...))
}
