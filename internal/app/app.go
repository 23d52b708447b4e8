// Package app assembles the coordinator from its services and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/bbernstein/lacylights-swarm/internal/api"
	"github.com/bbernstein/lacylights-swarm/internal/config"
	"github.com/bbernstein/lacylights-swarm/internal/database"
	"github.com/bbernstein/lacylights-swarm/internal/database/models"
	"github.com/bbernstein/lacylights-swarm/internal/database/repositories"
	"github.com/bbernstein/lacylights-swarm/internal/services/broadcast"
	"github.com/bbernstein/lacylights-swarm/internal/services/control"
	"github.com/bbernstein/lacylights-swarm/internal/services/discovery"
	"github.com/bbernstein/lacylights-swarm/internal/services/dispatch"
	"github.com/bbernstein/lacylights-swarm/internal/services/pattern"
	"github.com/bbernstein/lacylights-swarm/internal/services/pubsub"
	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
	"github.com/bbernstein/lacylights-swarm/internal/services/scheduler"
)

// syncEventEvery throttles FRAME_SYNCED events to about one per second.
const syncEventEvery = 30

// FrameSynced is the FRAME_SYNCED event payload.
type FrameSynced struct {
	Frame uint64 `json:"frame"`
}

// App owns every long-lived service of the coordinator.
type App struct {
	cfg *config.Config

	db       *gorm.DB
	devices  *repositories.DeviceRepository
	settings *repositories.SettingRepository

	events      *pubsub.PubSub
	registry    *registry.Registry
	engine      *pattern.Engine
	broadcaster *broadcast.Broadcaster
	dispatcher  *dispatch.Dispatcher
	discovery   *discovery.Listener
	scheduler   *scheduler.Scheduler
	control     *control.Service
	handler     http.Handler
	httpServer  *http.Server

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	records sync.WaitGroup
}

// New connects the database and builds the service graph. Nothing runs
// until Start.
func New(cfg *config.Config, version string) (*App, error) {
	db, err := database.Connect(database.Config{
		URL:   cfg.DatabaseURL,
		Debug: cfg.IsDevelopment() && cfg.LogLevel == "debug",
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		db:       db,
		devices:  repositories.NewDeviceRepository(db),
		settings: repositories.NewSettingRepository(db),
		events:   pubsub.New(),
	}

	dialer := registry.UDPDialer{WriteTimeout: cfg.SendTimeout}
	a.registry = registry.New(registry.Config{
		Capacity: cfg.NodeCapacity,
		DataPort: cfg.BasePort,
		Dialer:   dialer,
	})

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	a.engine = pattern.NewEngine(pattern.Config{
		Pattern:    pattern.Variant(cfg.Pattern),
		Brightness: cfg.Brightness,
		Seed:       seed,
	})

	a.broadcaster = broadcast.New(broadcast.Config{
		Address: a.syncAddress(),
		Port:    cfg.BasePort,
		Dialer:  dialer,
	})
	a.broadcaster.OnSync(a.frameSynced)

	a.dispatcher = dispatch.New(a.broadcaster.Trigger)
	a.registry.OnRegister(a.dispatcher.Attach)
	a.registry.OnRegister(a.deviceRegistered)

	a.discovery = discovery.New(discovery.Config{
		Addr: fmt.Sprintf(":%d", cfg.BeaconPort()),
	}, a.registry)

	a.scheduler = scheduler.New(cfg.TickPeriod, a.registry, a.engine, a.dispatcher)

	a.control = control.New(control.Config{
		Registry:  a.registry,
		Engine:    a.engine,
		Directory: a.devices,
		Events:    a.events,
		Frames:    a.scheduler.Frame,
	})

	a.handler = api.New(api.Config{
		Control:    a.control,
		History:    a.devices,
		Settings:   a.settings,
		Sync:       a.broadcaster,
		Senders:    a.dispatcher,
		Events:     a.events,
		CORSOrigin: cfg.CORSOrigin,
		Debug:      cfg.IsDevelopment(),
		Version:    version,
	}).Router()

	return a, nil
}

// syncAddress prefers the broadcast address saved through the API.
func (a *App) syncAddress() string {
	saved, err := a.settings.Get(context.Background(), repositories.SettingSyncBroadcast, "")
	if err != nil {
		log.Warn().Err(err).Msg("failed to read saved sync broadcast address")
		return a.cfg.SyncBroadcast
	}
	if saved == "" {
		return a.cfg.SyncBroadcast
	}
	log.Info().Str("address", saved).Msg("📡 Loading saved sync broadcast address")
	return saved
}

// Start opens the sockets and starts every loop. A discovery bind failure is
// returned; a broadcast socket failure only disables sync until reloaded.
func (a *App) Start(ctx context.Context) error {
	if err := a.discovery.Listen(); err != nil {
		return fmt.Errorf("failed to bind discovery socket: %w", err)
	}
	if err := a.broadcaster.Open(); err != nil {
		log.Warn().Err(err).Msg("sync broadcast unavailable")
	}

	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.broadcaster.Run(ctx)
	}()
	go func() {
		defer a.wg.Done()
		if err := a.discovery.Run(ctx); err != nil {
			log.Error().Err(err).Msg("discovery stopped")
		}
	}()

	a.scheduler.Start(ctx)

	if a.cfg.HTTPEnabled {
		a.httpServer = &http.Server{
			Addr:         ":" + a.cfg.Port,
			Handler:      a.handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0, // the event stream is long-lived
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", a.httpServer.Addr).Msg("🌐 HTTP API listening")
			if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}
	return nil
}

// Run starts the coordinator and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		a.Stop()
		return err
	}
	<-ctx.Done()
	a.Stop()
	return nil
}

// Stop shuts the services down in reverse order of their dependencies.
func (a *App) Stop() {
	log.Info().Msg("Shutting down coordinator...")

	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.httpServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown error")
		}
		cancel()
	}

	a.scheduler.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.dispatcher.Stop()
	a.broadcaster.Close()
	a.registry.Close()

	a.records.Wait()
	if err := database.Close(a.db); err != nil {
		log.Warn().Err(err).Msg("database close error")
	}
	log.Info().Msg("Coordinator stopped")
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.handler }

// Registry returns the node registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Scheduler returns the frame scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Discovery returns the beacon listener.
func (a *App) Discovery() *discovery.Listener { return a.discovery }

// Events returns the event bus.
func (a *App) Events() *pubsub.PubSub { return a.events }

// Devices returns the device directory.
func (a *App) Devices() *repositories.DeviceRepository { return a.devices }

func (a *App) deviceRegistered(slot *registry.Slot) {
	info := control.NewDeviceInfo(slot)
	a.events.Publish(pubsub.TopicDeviceRegistered, info.Label, info)

	// keep the directory write off the discovery loop
	a.records.Add(1)
	go func() {
		defer a.records.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := a.devices.Upsert(ctx, &models.Device{
			Address:    info.Address,
			Slot:       info.Index,
			Identifier: info.ID,
			Mapping:    info.Mapping,
			FirstSeen:  info.RegisteredAt,
			LastSeen:   info.RegisteredAt,
		})
		if err != nil {
			log.Warn().Err(err).Str("address", info.Address).Msg("failed to record device")
		}
	}()
}

func (a *App) frameSynced(frame uint64) {
	if frame%syncEventEvery == 0 {
		a.events.PublishAll(pubsub.TopicFrameSynced, FrameSynced{Frame: frame})
	}
}
