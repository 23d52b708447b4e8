package pattern

import "math"

const (
	// MaxBrightness is the highest operator brightness level.
	MaxBrightness = 15
	// White is a packed full-intensity white.
	White uint32 = 0x00ffffff
)

// ColorHSV converts a 16-bit hue with 8-bit saturation and value into a
// packed 0x00RRGGBB colour. Hue walks six piecewise-linear sectors
// (red, yellow, green, cyan, blue, magenta); the result is integer exact.
func ColorHSV(hue uint16, sat, val uint8) uint32 {
	var r, g, b uint32

	h := (uint32(hue)*1530 + 32768) / 65536
	switch {
	case h < 510:
		b = 0
		if h < 255 {
			r, g = 255, h
		} else {
			r, g = 510-h, 255
		}
	case h < 1020:
		r = 0
		if h < 765 {
			g, b = 255, h-510
		} else {
			g, b = 1020-h, 255
		}
	case h < 1530:
		g = 0
		if h < 1275 {
			r, b = h-1020, 255
		} else {
			r, b = 255, 1530-h
		}
	default:
		r, g, b = 255, 0, 0
	}

	v1 := 1 + uint32(val)
	s1 := 1 + uint32(sat)
	s2 := 255 - uint32(sat)

	return (((((r*s1)>>8)+s2)*v1)&0xff00)<<8 |
		(((((g * s1) >> 8) + s2) * v1) & 0xff00) |
		(((((b * s1) >> 8) + s2) * v1) >> 8)
}

// Unpack splits a packed colour into its channels.
func Unpack(c uint32) (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Pack builds a packed colour from channels.
func Pack(r, g, b uint8) uint32 {
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// BrightnessFactor maps an operator level 0..15 onto the multiplicative
// scale applied when pixels are written. Level 0 yields 0, which means no
// scaling at all; other levels follow 4·e^(0.277·level)+1 within 1..256.
func BrightnessFactor(level int) uint16 {
	if level <= 0 {
		return 0
	}
	if level > MaxBrightness {
		level = MaxBrightness
	}
	f := math.Round(4*math.Exp(0.277*float64(level))) + 1
	return uint16(clamp(int(f), 1, 256))
}

// scaleChannel applies a brightness factor to one channel.
func scaleChannel(c uint8, factor uint16) uint8 {
	if factor == 0 {
		return c
	}
	return uint8(uint32(c) * uint32(factor) >> 8)
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
