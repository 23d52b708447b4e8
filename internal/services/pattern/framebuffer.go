package pattern

import "github.com/bbernstein/lacylights-swarm/pkg/ledproto"

// Framebuffer is the pixel surface patterns draw on. It is bound to the RGB
// payload of one outgoing segment at a time and scales every colour by the
// current brightness factor as it is written.
type Framebuffer struct {
	pix   []byte
	scale uint16
}

// Bind points the framebuffer at a segment's pixel payload.
func (f *Framebuffer) Bind(segment []byte) {
	f.pix = ledproto.Pixels(segment)
}

// SetScale sets the brightness factor used by subsequent writes.
func (f *Framebuffer) SetScale(factor uint16) {
	f.scale = factor
}

// Len returns the number of addressable pixels.
func (f *Framebuffer) Len() int {
	return len(f.pix) / 3
}

// SetPixel writes a packed colour at index n. Out of range writes are ignored.
func (f *Framebuffer) SetPixel(n int, c uint32) {
	if n < 0 || n >= f.Len() {
		return
	}
	r, g, b := Unpack(c)
	p := f.pix[n*3 : n*3+3]
	p[0] = scaleChannel(r, f.scale)
	p[1] = scaleChannel(g, f.scale)
	p[2] = scaleChannel(b, f.scale)
}

// Pixel reads back the colour stored at index n.
func (f *Framebuffer) Pixel(n int) uint32 {
	if n < 0 || n >= f.Len() {
		return 0
	}
	p := f.pix[n*3 : n*3+3]
	return Pack(p[0], p[1], p[2])
}
