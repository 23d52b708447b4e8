// Package api exposes the coordinator's operator actions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/database/models"
	"github.com/bbernstein/lacylights-swarm/internal/services/broadcast"
	"github.com/bbernstein/lacylights-swarm/internal/services/control"
	"github.com/bbernstein/lacylights-swarm/internal/services/dispatch"
	"github.com/bbernstein/lacylights-swarm/internal/services/network"
	"github.com/bbernstein/lacylights-swarm/internal/services/pattern"
	"github.com/bbernstein/lacylights-swarm/internal/services/pubsub"
	"github.com/bbernstein/lacylights-swarm/internal/services/registry"
	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

// DeviceHistory lists every device the directory has seen.
type DeviceHistory interface {
	FindAll(ctx context.Context) ([]models.Device, error)
}

// SettingStore persists runtime settings.
type SettingStore interface {
	Upsert(ctx context.Context, key, value string) (*models.Setting, error)
}

// SyncTarget is the broadcaster as seen by the API.
type SyncTarget interface {
	Reload(address string) error
	Stats() broadcast.Stats
}

// SenderStats reports per-node transmit counters.
type SenderStats interface {
	Stats() []dispatch.SenderStats
}

// Config wires the API. History, Settings, Sync, Senders and Events are optional.
type Config struct {
	Control    *control.Service
	History    DeviceHistory
	Settings   SettingStore
	Sync       SyncTarget
	Senders    SenderStats
	Events     *pubsub.PubSub
	Interfaces func() ([]network.InterfaceOption, error)

	CORSOrigin string
	Debug      bool
	Version    string
}

// Server holds the handler dependencies.
type Server struct {
	cfg     Config
	started time.Time
}

// New creates the API server.
func New(cfg Config) *Server {
	if cfg.Interfaces == nil {
		cfg.Interfaces = network.GetNetworkInterfaces
	}
	return &Server{cfg: cfg, started: time.Now()}
}

// Router builds the chi router with every route mounted.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{s.cfg.CORSOrigin, "http://localhost:3000", "http://localhost:4000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		Debug:            s.cfg.Debug,
	})
	router.Use(corsMiddleware.Handler)

	router.Get("/health", s.health)
	router.Get("/ws", s.events)

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))

		r.Get("/status", s.status)

		r.Get("/devices", s.listDevices)
		r.Get("/devices/history", s.deviceHistory)
		r.Put("/devices/{index}", s.reconfigureDevice)
		r.Post("/devices/{index}/identify", s.identifyDevice)
		r.Delete("/identify", s.endIdentify)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Post("/settings/brightness/{direction}", s.stepBrightness)
		r.Post("/settings/pattern/{direction}", s.stepPattern)

		r.Get("/network/interfaces", s.listInterfaces)
		r.Put("/network/broadcast", s.putBroadcast)
	})

	return router
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, pattern.ErrInvalidPattern),
		errors.Is(err, pattern.ErrInvalidBrightness),
		errors.Is(err, ledproto.ErrMalformed),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
