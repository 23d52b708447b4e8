package pattern

import "github.com/bbernstein/lacylights-swarm/pkg/ledproto"

// identify lights pixel i of strip i on the node selected by mode, so an
// operator can see where it sits and how its strips are wired. Every other
// node gets one blank show segment.
func (e *Engine) identify(frame uint64, targets []Target) {
	for _, t := range targets {
		p := t.Packet
		if t.Index != e.mode {
			p.Clear(1)
			ledproto.WriteHeader(p.Segment(0), ledproto.SelectAllShow, frame)
			p.SetCount(1)
			continue
		}

		p.Clear(ledproto.MaxSegments)
		for i, sel := range ledproto.StripSelectors {
			e.beginSegment(p, i, sel, frame)
			e.fb.SetPixel(i, White)
		}
		p.SetCount(ledproto.MaxSegments)
	}
}

// runningDots moves a dot and its mirror image along every strip.
func (e *Engine) runningDots(frame uint64, targets []Target) {
	e.dotPos++
	if e.dotPos >= dotsWrap {
		e.dotPos = 0
	}
	pos := e.dotPos
	mirror := ledproto.LEDCount - 1 - pos
	col := ColorHSV(uint16(frame*256), 255, 255)

	for _, t := range targets {
		p := t.Packet
		p.Clear(ledproto.MaxSegments)
		for i, sel := range ledproto.StripSelectors {
			e.beginSegment(p, i, sel, frame)
			if i%2 == 0 {
				e.fb.SetPixel(pos, col)
			} else {
				e.fb.SetPixel(mirror, col)
			}
		}
		p.SetCount(ledproto.MaxSegments)
	}
}

// trains moves a block of pixels at a fixed speed; each node's hue is
// shifted by its identifier so neighbours differ.
func (e *Engine) trains(frame uint64, targets []Target) {
	start := int(uint32(e.trainAcc) * ledproto.LEDCount / 65536)

	for _, t := range targets {
		p := t.Packet
		fid := uint16(frame) + (t.ID&0x00ff)*trainHueStep
		col := ColorHSV(fid*256, 255, 255)

		p.Clear(1)
		e.beginSegment(p, 0, ledproto.SelectAllShow, frame)
		im := start
		for i := 0; i < trainLen; i++ {
			if im >= ledproto.LEDCount {
				im = 0
			}
			e.fb.SetPixel(im, col)
			im++
		}
		p.SetCount(1)
	}
	e.trainAcc += trainStep
}

// spotFlash scatters random spots on three strips; nothing carries over
// between ticks.
func (e *Engine) spotFlash(frame uint64, targets []Target) {
	selectors := ledproto.StripSelectors[1:]

	for _, t := range targets {
		p := t.Packet
		p.Clear(len(selectors))
		for i, sel := range selectors {
			e.beginSegment(p, i, sel, frame)
			for n := 0; n < spotCount; n++ {
				pix := e.rng.IntN(spotRange)
				hue := uint16(e.rng.IntN(0xffff))
				e.fb.SetPixel(pix, ColorHSV(hue, 255, 255))
			}
		}
		p.SetCount(len(selectors))
	}
}
