// Package pattern generates per-node pixel segments for every tick.
package pattern

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

// Variant selects one of the fixed pattern algorithms.
type Variant int

const (
	Identify Variant = iota
	RunningDots
	Trains
	SpotFlash
)

// VariantCount is the number of available patterns.
const VariantCount = 4

var variantNames = [VariantCount]string{"identify", "running-dots", "trains", "spot-flash"}

func (v Variant) String() string {
	if !v.Valid() {
		return fmt.Sprintf("variant(%d)", int(v))
	}
	return variantNames[v]
}

// Valid reports whether v names a known pattern.
func (v Variant) Valid() bool {
	return v >= 0 && v < VariantCount
}

// ParseVariant accepts a pattern name or its index.
func ParseVariant(s string) (Variant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range variantNames {
		if s == name || s == fmt.Sprint(i) {
			return Variant(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPattern, s)
}

var (
	// ErrInvalidPattern is returned for an unknown pattern index.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrInvalidBrightness is returned for a level outside 0..15.
	ErrInvalidBrightness = errors.New("invalid brightness")
)

// Target is one node's outgoing buffer for the frame being generated.
type Target struct {
	Index  int
	ID     uint16
	Packet *ledproto.Packet
}

// Config holds the initial engine settings.
type Config struct {
	Pattern    Variant
	Mode       int
	Brightness int
	Seed       uint64
}

const (
	dotsWrap     = 100
	trainLen     = 10
	trainStep    = 800
	trainHueStep = 50
	spotCount    = 25
	spotRange    = 180
)

// Engine owns the selected pattern, its persistent cursors and the
// framebuffer used to draw into node packets.
type Engine struct {
	mu sync.Mutex

	variant    Variant
	mode       int
	brightness int
	fb         Framebuffer

	// per-pattern cursors, kept across ticks and pattern switches
	dotPos   int
	trainAcc uint16

	rng *rand.Rand
}

// NewEngine creates an engine. Invalid settings fall back to Trains at
// brightness 0.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	if err := e.SetPattern(cfg.Pattern, cfg.Mode); err != nil {
		e.variant = Trains
	}
	if err := e.SetBrightness(cfg.Brightness); err != nil {
		_ = e.SetBrightness(0)
	}
	return e
}

// SetPattern selects the pattern and its mode parameter. For Identify the
// mode is the slot index to highlight.
func (e *Engine) SetPattern(v Variant, mode int) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPattern, int(v))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.variant = v
	e.mode = mode
	return nil
}

// Pattern returns the selected pattern and mode.
func (e *Engine) Pattern() (Variant, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.variant, e.mode
}

// SetBrightness sets the operator brightness level and recomputes the scale.
func (e *Engine) SetBrightness(level int) error {
	if level < 0 || level > MaxBrightness {
		return fmt.Errorf("%w: %d", ErrInvalidBrightness, level)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.brightness = level
	e.fb.SetScale(BrightnessFactor(level))
	return nil
}

// Brightness returns the operator brightness level.
func (e *Engine) Brightness() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.brightness
}

// Generate draws the given frame into every target packet.
func (e *Engine) Generate(frame uint64, targets []Target) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.variant {
	case Identify:
		e.identify(frame, targets)
	case RunningDots:
		e.runningDots(frame, targets)
	case Trains:
		e.trains(frame, targets)
	case SpotFlash:
		e.spotFlash(frame, targets)
	}
}

// beginSegment stamps the header of segment i and binds the framebuffer to it.
func (e *Engine) beginSegment(p *ledproto.Packet, i int, selector byte, frame uint64) {
	seg := p.Segment(i)
	ledproto.WriteHeader(seg, selector, frame)
	e.fb.Bind(seg)
}
