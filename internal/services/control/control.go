// Package control implements the operator actions: listing nodes, changing
// a node's identifier and mapping, and adjusting pattern and brightness.
package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/services/pattern"
	"github.com/bbernstein/lacylights-swarm/internal/services/pubsub"
	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

// Pattern indexes reachable by the pattern up/down keys. Identify is only
// entered by selecting a node.
const (
	minAdjustPattern = pattern.RunningDots
	maxAdjustPattern = pattern.SpotFlash
)

// Engine is the pattern state the service controls.
type Engine interface {
	SetPattern(v pattern.Variant, mode int) error
	Pattern() (pattern.Variant, int)
	SetBrightness(level int) error
	Brightness() int
}

// Directory persists node identity changes.
type Directory interface {
	UpdateIdentity(ctx context.Context, address, identifier, mapping string) error
}

// Publisher receives operator-visible events.
type Publisher interface {
	Publish(topic pubsub.Topic, filter string, payload interface{})
}

// Config wires the service. Directory, Events and Frames are optional.
type Config struct {
	Registry  *registry.Registry
	Engine    Engine
	Directory Directory
	Events    Publisher
	Frames    func() uint64
}

// DeviceInfo is the operator view of one registered node.
type DeviceInfo struct {
	Label        string    `json:"label"`
	Index        int       `json:"index"`
	Address      string    `json:"address"`
	ID           string    `json:"id"`
	Mapping      string    `json:"mapping"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// NewDeviceInfo describes slot.
func NewDeviceInfo(s *registry.Slot) DeviceInfo {
	return DeviceInfo{
		Label:        s.Label(),
		Index:        s.Index(),
		Address:      s.Addr().String(),
		ID:           fmt.Sprintf("%04X", s.ID()),
		Mapping:      fmt.Sprintf("%04X", s.Mapping()),
		RegisteredAt: s.RegisteredAt(),
		LastSeen:     s.LastSeen(),
	}
}

// Settings is the current animation state.
type Settings struct {
	Pattern      string `json:"pattern"`
	PatternIndex int    `json:"patternIndex"`
	Brightness   int    `json:"brightness"`
	// Identifying is the selected slot while Identify runs.
	Identifying *int `json:"identifying,omitempty"`
}

// Status summarizes the coordinator.
type Status struct {
	Frame    uint64   `json:"frame"`
	Devices  int      `json:"devices"`
	Capacity int      `json:"capacity"`
	Settings Settings `json:"settings"`
}

// Service implements the control actions.
type Service struct {
	registry  *registry.Registry
	engine    Engine
	directory Directory
	events    Publisher
	frames    func() uint64

	mu          sync.Mutex
	configured  pattern.Variant
	identifying bool
}

// New creates the service. The engine's current pattern becomes the
// configured pattern unless it is Identify, in which case the service starts
// identifying and EndIdentify falls back to Trains.
func New(cfg Config) *Service {
	s := &Service{
		registry:   cfg.Registry,
		engine:     cfg.Engine,
		directory:  cfg.Directory,
		events:     cfg.Events,
		frames:     cfg.Frames,
		configured: pattern.Trains,
	}
	if v, _ := cfg.Engine.Pattern(); v != pattern.Identify {
		s.configured = v
	} else {
		s.identifying = true
	}
	return s
}

// Devices lists the registered nodes in slot order.
func (s *Service) Devices() []DeviceInfo {
	active := s.registry.Active()
	devices := make([]DeviceInfo, len(active))
	for i, slot := range active {
		devices[i] = NewDeviceInfo(slot)
	}
	return devices
}

// Device returns the node at index.
func (s *Service) Device(index int) (DeviceInfo, error) {
	slot, err := s.registry.Slot(index)
	if err != nil {
		return DeviceInfo{}, err
	}
	return NewDeviceInfo(slot), nil
}

// Reconfigure sends a new identifier and mapping to the node at index and
// records them once the message is out.
func (s *Service) Reconfigure(ctx context.Context, index int, id, mapping uint16) (DeviceInfo, error) {
	slot, err := s.registry.Slot(index)
	if err != nil {
		return DeviceInfo{}, err
	}

	if _, err := slot.Conn().Write(ledproto.BuildReconfig(id, mapping)); err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to send reconfiguration to %s: %w", slot.Label(), err)
	}
	if _, err := s.registry.Reconfigure(index, id, mapping); err != nil {
		return DeviceInfo{}, err
	}

	info := NewDeviceInfo(slot)
	log.Info().
		Str("slot", info.Label).
		Str("addr", info.Address).
		Str("id", info.ID).
		Str("mapping", info.Mapping).
		Msg("🔧 Node reconfigured")

	if s.directory != nil {
		if err := s.directory.UpdateIdentity(ctx, info.Address, info.ID, info.Mapping); err != nil {
			log.Warn().Err(err).Str("slot", info.Label).Msg("failed to record reconfiguration")
		}
	}
	s.publish(pubsub.TopicDeviceReconfigured, info.Label, info)
	return info, nil
}

// SetBrightness sets the global brightness level (0..15).
func (s *Service) SetBrightness(level int) (Settings, error) {
	if err := s.engine.SetBrightness(level); err != nil {
		return s.Settings(), err
	}
	return s.settingsChanged(), nil
}

// AdjustBrightness moves the brightness by delta, clamped to 0..15.
func (s *Service) AdjustBrightness(delta int) Settings {
	level := clamp(s.engine.Brightness()+delta, 0, pattern.MaxBrightness)
	_ = s.engine.SetBrightness(level)
	return s.settingsChanged()
}

// SetPattern selects the running pattern. It ends any Identify selection.
func (s *Service) SetPattern(v pattern.Variant) (Settings, error) {
	if v == pattern.Identify || !v.Valid() {
		return s.Settings(), fmt.Errorf("%w: %s cannot be selected directly", pattern.ErrInvalidPattern, v)
	}

	s.mu.Lock()
	err := s.engine.SetPattern(v, 0)
	if err == nil {
		s.configured = v
		s.identifying = false
	}
	s.mu.Unlock()

	if err != nil {
		return s.Settings(), err
	}
	return s.settingsChanged(), nil
}

// AdjustPattern steps the configured pattern by delta within the
// selectable range.
func (s *Service) AdjustPattern(delta int) Settings {
	s.mu.Lock()
	next := pattern.Variant(clamp(int(s.configured)+delta, int(minAdjustPattern), int(maxAdjustPattern)))
	s.mu.Unlock()

	settings, _ := s.SetPattern(next)
	return settings
}

// Identify lights the first pixel of each strip on the node at index and
// blanks every other node.
func (s *Service) Identify(index int) (Settings, error) {
	if _, err := s.registry.Slot(index); err != nil {
		return s.Settings(), err
	}

	s.mu.Lock()
	err := s.engine.SetPattern(pattern.Identify, index)
	if err == nil {
		s.identifying = true
	}
	s.mu.Unlock()

	if err != nil {
		return s.Settings(), err
	}
	log.Info().Int("slot", index).Msg("🔦 Identifying node")
	return s.settingsChanged(), nil
}

// EndIdentify returns to the configured pattern.
func (s *Service) EndIdentify() Settings {
	s.mu.Lock()
	if s.identifying {
		_ = s.engine.SetPattern(s.configured, 0)
		s.identifying = false
	}
	s.mu.Unlock()
	return s.settingsChanged()
}

// Settings returns the current animation state.
func (s *Service) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, mode := s.engine.Pattern()
	settings := Settings{
		Pattern:      v.String(),
		PatternIndex: int(v),
		Brightness:   s.engine.Brightness(),
	}
	if s.identifying && v == pattern.Identify {
		slot := mode
		settings.Identifying = &slot
	}
	return settings
}

// Status summarizes the coordinator.
func (s *Service) Status() Status {
	st := Status{
		Devices:  s.registry.Count(),
		Capacity: s.registry.Capacity(),
		Settings: s.Settings(),
	}
	if s.frames != nil {
		st.Frame = s.frames()
	}
	return st
}

func (s *Service) settingsChanged() Settings {
	settings := s.Settings()
	s.publish(pubsub.TopicSettingsChanged, "", settings)
	return settings
}

func (s *Service) publish(topic pubsub.Topic, filter string, payload interface{}) {
	if s.events != nil {
		s.events.Publish(topic, filter, payload)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
