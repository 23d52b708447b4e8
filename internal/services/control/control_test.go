package control

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-swarm/internal/database/models"
	"github.com/bbernstein/lacylights-swarm/internal/services/pattern"
	"github.com/bbernstein/lacylights-swarm/internal/services/pubsub"
	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
	"github.com/bbernstein/lacylights-swarm/internal/services/testutil"
	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

type fixture struct {
	svc      *Service
	registry *registry.Registry
	engine   *pattern.Engine
	dialer   *testutil.Dialer
	db       *testutil.TestDB
	events   *pubsub.PubSub
}

func newFixture(t *testing.T, nodes int) *fixture {
	t.Helper()
	dialer := testutil.NewDialer()
	reg := registry.New(registry.Config{Capacity: 4, Dialer: dialer})
	for i := 0; i < nodes; i++ {
		addr := netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)})
		_, _, err := reg.Register(addr, ledproto.Beacon{ID: uint16(i + 1), Mapping: 0x1234})
		require.NoError(t, err)
	}

	db := testutil.SetupTestDB(t)
	engine := pattern.NewEngine(pattern.Config{Pattern: pattern.Trains, Brightness: 3})
	events := pubsub.New()
	var frame uint64 = 99

	svc := New(Config{
		Registry:  reg,
		Engine:    engine,
		Directory: db.DeviceRepo,
		Events:    events,
		Frames:    func() uint64 { return frame },
	})
	return &fixture{svc: svc, registry: reg, engine: engine, dialer: dialer, db: db, events: events}
}

func TestDevices(t *testing.T) {
	f := newFixture(t, 2)

	devices := f.svc.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "A", devices[0].Label)
	assert.Equal(t, "10.0.0.1", devices[0].Address)
	assert.Equal(t, "0001", devices[0].ID)
	assert.Equal(t, "1234", devices[0].Mapping)
	assert.Equal(t, "B", devices[1].Label)
	assert.Equal(t, 1, devices[1].Index)

	_, err := f.svc.Device(3)
	assert.ErrorIs(t, err, registry.ErrSlotNotFound)
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	require.NoError(t, f.db.DeviceRepo.Upsert(ctx, &models.Device{Address: "10.0.0.1", Identifier: "0001", Mapping: "1234"}))
	sub := f.events.Subscribe(pubsub.TopicDeviceReconfigured, "", 4)

	info, err := f.svc.Reconfigure(ctx, 0, 0x00ab, 0x4321)
	require.NoError(t, err)
	assert.Equal(t, "00AB", info.ID)
	assert.Equal(t, "4321", info.Mapping)

	writes := f.dialer.Conn(netip.MustParseAddr("10.0.0.1")).Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, "ci00AB4321", string(writes[0]))

	slot, err := f.registry.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x00ab), slot.ID())
	assert.Equal(t, uint16(0x4321), slot.Mapping())

	stored, err := f.db.DeviceRepo.FindByAddress(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "00AB", stored.Identifier)

	select {
	case ev := <-sub.Channel:
		assert.Equal(t, info, ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("no reconfigure event")
	}
}

func TestReconfigure_UnknownSlot(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Reconfigure(context.Background(), 2, 1, 1)
	assert.ErrorIs(t, err, registry.ErrSlotNotFound)
}

type failConn struct{}

func (failConn) Write([]byte) (int, error) { return 0, errors.New("no route to host") }
func (failConn) Close() error              { return nil }

type failDialer struct{}

func (failDialer) Dial(netip.AddrPort) (registry.Conn, error) { return failConn{}, nil }

func TestReconfigure_SendFailureKeepsIdentity(t *testing.T) {
	reg := registry.New(registry.Config{Capacity: 1, Dialer: failDialer{}})
	_, _, err := reg.Register(netip.MustParseAddr("10.0.0.1"), ledproto.Beacon{ID: 1, Mapping: 2})
	require.NoError(t, err)
	svc := New(Config{Registry: reg, Engine: pattern.NewEngine(pattern.Config{Pattern: pattern.Trains})})

	_, err = svc.Reconfigure(context.Background(), 0, 9, 9)
	require.Error(t, err)

	slot, _ := reg.Slot(0)
	assert.Equal(t, uint16(1), slot.ID())
}

func TestBrightness(t *testing.T) {
	f := newFixture(t, 0)
	sub := f.events.Subscribe(pubsub.TopicSettingsChanged, "", 16)

	settings, err := f.svc.SetBrightness(10)
	require.NoError(t, err)
	assert.Equal(t, 10, settings.Brightness)

	_, err = f.svc.SetBrightness(16)
	assert.ErrorIs(t, err, pattern.ErrInvalidBrightness)
	assert.Equal(t, 10, f.engine.Brightness())

	for i := 0; i < 10; i++ {
		f.svc.AdjustBrightness(+1)
	}
	assert.Equal(t, 15, f.engine.Brightness(), "brightness clamps at 15")

	for i := 0; i < 20; i++ {
		f.svc.AdjustBrightness(-1)
	}
	assert.Equal(t, 0, f.engine.Brightness(), "brightness clamps at 0")

	assert.Len(t, sub.Channel, 16, "every change publishes an event")
}

func TestPattern(t *testing.T) {
	f := newFixture(t, 0)

	settings, err := f.svc.SetPattern(pattern.SpotFlash)
	require.NoError(t, err)
	assert.Equal(t, "spot-flash", settings.Pattern)

	assert.Equal(t, int(pattern.SpotFlash), f.svc.AdjustPattern(+1).PatternIndex, "clamped at the last pattern")
	assert.Equal(t, int(pattern.Trains), f.svc.AdjustPattern(-1).PatternIndex)
	assert.Equal(t, int(pattern.RunningDots), f.svc.AdjustPattern(-1).PatternIndex)
	assert.Equal(t, int(pattern.RunningDots), f.svc.AdjustPattern(-1).PatternIndex, "Identify is not reachable by stepping")

	_, err = f.svc.SetPattern(pattern.Identify)
	assert.ErrorIs(t, err, pattern.ErrInvalidPattern)
	_, err = f.svc.SetPattern(pattern.Variant(7))
	assert.ErrorIs(t, err, pattern.ErrInvalidPattern)
}

func TestIdentifyFlow(t *testing.T) {
	f := newFixture(t, 3)

	settings, err := f.svc.Identify(1)
	require.NoError(t, err)
	require.NotNil(t, settings.Identifying)
	assert.Equal(t, 1, *settings.Identifying)
	v, mode := f.engine.Pattern()
	assert.Equal(t, pattern.Identify, v)
	assert.Equal(t, 1, mode)

	_, err = f.svc.Identify(3)
	assert.ErrorIs(t, err, registry.ErrSlotNotFound)

	settings = f.svc.EndIdentify()
	assert.Nil(t, settings.Identifying)
	v, _ = f.engine.Pattern()
	assert.Equal(t, pattern.Trains, v, "configured pattern restored")
}

func TestIdentify_SetPatternEndsSelection(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.svc.Identify(0)
	require.NoError(t, err)

	_, err = f.svc.SetPattern(pattern.RunningDots)
	require.NoError(t, err)

	settings := f.svc.EndIdentify()
	assert.Equal(t, "running-dots", settings.Pattern)
	assert.Nil(t, settings.Identifying)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, 2)

	st := f.svc.Status()
	assert.Equal(t, uint64(99), st.Frame)
	assert.Equal(t, 2, st.Devices)
	assert.Equal(t, 4, st.Capacity)
	assert.Equal(t, "trains", st.Settings.Pattern)
	assert.Equal(t, 3, st.Settings.Brightness)
}

func TestNew_IdentifyEngineFallsBackToTrains(t *testing.T) {
	reg := registry.New(registry.Config{Capacity: 1, Dialer: testutil.NewDialer()})
	engine := pattern.NewEngine(pattern.Config{Pattern: pattern.Identify})
	svc := New(Config{Registry: reg, Engine: engine})

	assert.Equal(t, int(pattern.SpotFlash), svc.AdjustPattern(+1).PatternIndex)
}

func TestNew_IdentifyEngineCanEndIdentify(t *testing.T) {
	reg := registry.New(registry.Config{Capacity: 1, Dialer: testutil.NewDialer()})
	engine := pattern.NewEngine(pattern.Config{Pattern: pattern.Identify})
	svc := New(Config{Registry: reg, Engine: engine})

	settings := svc.Settings()
	require.NotNil(t, settings.Identifying)
	assert.Equal(t, 0, *settings.Identifying)

	settings = svc.EndIdentify()
	assert.Equal(t, "trains", settings.Pattern)
	assert.Nil(t, settings.Identifying)
	v, _ := engine.Pattern()
	assert.Equal(t, pattern.Trains, v)
}
