package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/bbernstein/lacylights-swarm/internal/database/repositories"
	"github.com/bbernstein/lacylights-swarm/internal/services/broadcast"
	"github.com/bbernstein/lacylights-swarm/internal/services/control"
	"github.com/bbernstein/lacylights-swarm/internal/services/dispatch"
	"github.com/bbernstein/lacylights-swarm/internal/services/network"
	"github.com/bbernstein/lacylights-swarm/internal/services/pattern"
	"github.com/bbernstein/lacylights-swarm/pkg/ledproto"
)

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not available")
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.cfg.Version,
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	})
}

type statusResponse struct {
	control.Status
	Sync    *broadcast.Stats       `json:"sync,omitempty"`
	Senders []dispatch.SenderStats `json:"senders,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.cfg.Control.Status()}
	if s.cfg.Sync != nil {
		st := s.cfg.Sync.Stats()
		resp.Sync = &st
	}
	if s.cfg.Senders != nil {
		resp.Senders = s.cfg.Senders.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Control.Devices())
}

func (s *Server) deviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		writeError(w, fmt.Errorf("%w: device directory disabled", errUnavailable))
		return
	}
	devices, err := s.cfg.History.FindAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

type reconfigureRequest struct {
	ID      string `json:"id"`
	Mapping string `json:"mapping"`
}

func (s *Server) reconfigureDevice(w http.ResponseWriter, r *http.Request) {
	index, err := slotIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req reconfigureRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := ledproto.ParseHex16(req.ID)
	if err != nil {
		writeError(w, fmt.Errorf("id: %w", err))
		return
	}
	mapping, err := ledproto.ParseHex16(req.Mapping)
	if err != nil {
		writeError(w, fmt.Errorf("mapping: %w", err))
		return
	}

	info, err := s.cfg.Control.Reconfigure(r.Context(), index, id, mapping)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) identifyDevice(w http.ResponseWriter, r *http.Request) {
	index, err := slotIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	settings, err := s.cfg.Control.Identify(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) endIdentify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Control.EndIdentify())
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Control.Settings())
}

type settingsRequest struct {
	Brightness *int `json:"brightness"`
	Pattern    *int `json:"pattern"`
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Brightness == nil && req.Pattern == nil {
		writeError(w, fmt.Errorf("%w: nothing to change", errBadRequest))
		return
	}

	settings := s.cfg.Control.Settings()
	var err error
	if req.Pattern != nil {
		if settings, err = s.cfg.Control.SetPattern(pattern.Variant(*req.Pattern)); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Brightness != nil {
		if settings, err = s.cfg.Control.SetBrightness(*req.Brightness); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) stepBrightness(w http.ResponseWriter, r *http.Request) {
	delta, err := direction(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Control.AdjustBrightness(delta))
}

func (s *Server) stepPattern(w http.ResponseWriter, r *http.Request) {
	delta, err := direction(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Control.AdjustPattern(delta))
}

func (s *Server) listInterfaces(w http.ResponseWriter, r *http.Request) {
	options, err := s.cfg.Interfaces()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

type broadcastRequest struct {
	Address string `json:"address"`
}

func (s *Server) putBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sync == nil {
		writeError(w, fmt.Errorf("%w: sync broadcaster disabled", errUnavailable))
		return
	}

	var req broadcastRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	addr, err := network.ValidateBroadcast(req.Address)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.cfg.Sync.Reload(addr.String()); err != nil {
		writeError(w, err)
		return
	}

	if s.cfg.Settings != nil {
		if _, err := s.cfg.Settings.Upsert(r.Context(), repositories.SettingSyncBroadcast, addr.String()); err != nil {
			log.Warn().Err(err).Msg("failed to persist sync broadcast address")
		}
	}
	writeJSON(w, http.StatusOK, s.cfg.Sync.Stats())
}

func slotIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: slot index %q", errBadRequest, raw)
	}
	return index, nil
}

func direction(r *http.Request) (int, error) {
	switch d := chi.URLParam(r, "direction"); d {
	case "up":
		return +1, nil
	case "down":
		return -1, nil
	default:
		return 0, fmt.Errorf("%w: direction %q", errBadRequest, d)
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
