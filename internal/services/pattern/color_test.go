package pattern

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

func TestColorHSV_PrimaryHues(t *testing.T) {
	tests := []struct {
		name string
		hue  uint16
		want uint32
	}{
		{"red", 0, 0xff0000},
		{"yellow", 10922, 0xffff00},
		{"green", 21845, 0x00ff00},
		{"cyan", 32768, 0x00ffff},
		{"blue", 43690, 0x0000ff},
		{"magenta", 54613, 0xff00ff},
		{"wrap to red", 65535, 0xff0000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ColorHSV(tt.hue, 255, 255), "ColorHSV(%d, 255, 255)", tt.hue)
		})
	}
}

func TestColorHSV_ZeroSaturationIsColorless(t *testing.T) {
	for hue := 0; hue < 65536; hue += 257 {
		r, g, b := Unpack(ColorHSV(uint16(hue), 0, 255))
		require.Equal(t, r, g, "hue %d", hue)
		require.Equal(t, g, b, "hue %d", hue)
	}
}

func TestColorHSV_ValueScales(t *testing.T) {
	r, g, b := Unpack(ColorHSV(0, 255, 127))
	assert.Equal(t, uint8(127), r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	assert.Zero(t, ColorHSV(12345, 255, 0), "value 0 is black")
}

func TestPackUnpack(t *testing.T) {
	c := Pack(0x12, 0x34, 0x56)
	assert.Equal(t, uint32(0x123456), c)
	r, g, b := Unpack(c)
	assert.Equal(t, []uint8{0x12, 0x34, 0x56}, []uint8{r, g, b})
}

func TestBrightnessFactor(t *testing.T) {
	assert.Zero(t, BrightnessFactor(0), "level 0 means no scaling")
	assert.Zero(t, BrightnessFactor(-3))
	assert.Equal(t, uint16(6), BrightnessFactor(1))

	for level := 1; level <= MaxBrightness; level++ {
		want := int(math.Round(4*math.Exp(0.277*float64(level)))) + 1
		want = clamp(want, 1, 256)
		assert.Equal(t, uint16(want), BrightnessFactor(level), "level %d", level)
	}

	assert.Equal(t, BrightnessFactor(MaxBrightness), BrightnessFactor(99), "levels above max clamp")
}

func TestFramebuffer_ScalesOnWrite(t *testing.T) {
	p := ledproto.NewPacket()
	var fb Framebuffer
	fb.Bind(p.Segment(0))
	require.Equal(t, ledproto.LEDCount, fb.Len())

	fb.SetScale(0)
	fb.SetPixel(0, 0xff8001)
	assert.Equal(t, uint32(0xff8001), fb.Pixel(0), "factor 0 passes through")

	fb.SetScale(BrightnessFactor(1))
	fb.SetPixel(1, 0xff8001)
	r, g, b := Unpack(fb.Pixel(1))
	assert.Equal(t, uint8(255*6/256), r)
	assert.Equal(t, uint8(128*6/256), g)
	assert.Equal(t, uint8(0), b)

	fb.SetScale(256)
	fb.SetPixel(2, 0x7f7f7f)
	assert.Equal(t, uint32(0x7f7f7f), fb.Pixel(2), "factor 256 is identity")
}

func TestFramebuffer_IgnoresOutOfRange(t *testing.T) {
	p := ledproto.NewPacket()
	var fb Framebuffer
	fb.Bind(p.Segment(0))

	fb.SetPixel(-1, White)
	fb.SetPixel(ledproto.LEDCount, White)

	assert.Equal(t, make([]byte, ledproto.SegmentLen), p.Segment(0))
	assert.Zero(t, fb.Pixel(ledproto.LEDCount))
}
