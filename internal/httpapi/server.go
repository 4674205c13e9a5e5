// v2
// internal/httpapi/server.go

// Package httpapi is the operations surface: fleet status, per-dome state and
// history, the emergency log, operator mode transitions and the journal. It
// reads committed dome state only; control decisions never flow through HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/dome"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/modes"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/runlog"
	"github.com/dfeen87/Bio-Stabilizing-Lunar-Spray/internal/telemetry"
)

// Deps wires the server. Journal and Metrics may be nil; their endpoints
// report 404 / are absent respectively.
type Deps struct {
	Log     *slog.Logger
	Domes   []*dome.Controller
	Journal *runlog.RunLog
	Metrics http.Handler
	// AccessLog receives the combined-format access log lines.
	AccessLog io.Writer
}

type Server struct {
	d     Deps
	byID  map[string]*dome.Controller
	order []string
}

func NewServer(d Deps) *Server {
	s := &Server{d: d, byID: make(map[string]*dome.Controller, len(d.Domes))}
	for _, c := range d.Domes {
		s.byID[c.ID()] = c
		s.order = append(s.order, c.ID())
	}
	return s
}

// Router builds the route table wrapped in the combined access log.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/domes", s.handleDomes).Methods("GET")
	r.HandleFunc("/domes/{id}/state", s.handleState).Methods("GET")
	r.HandleFunc("/domes/{id}/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/domes/{id}/emergencies", s.handleEmergencies).Methods("GET")
	r.HandleFunc("/domes/{id}/transitions", s.handleTransitions).Methods("GET")
	r.HandleFunc("/domes/{id}/mode", s.handleModeRequest).Methods("PUT")
	r.HandleFunc("/domes/{id}/setpoints", s.handleSetpointUpdate).Methods("PUT")
	r.HandleFunc("/journal", s.handleJournal).Methods("GET")
	if s.d.Metrics != nil {
		r.Handle("/metrics", s.d.Metrics).Methods("GET")
	}

	out := s.d.AccessLog
	if out == nil {
		out = io.Discard
	}
	return handlers.CombinedLoggingHandler(out, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *dome.Controller {
	id := mux.Vars(r)["id"]
	c, ok := s.byID[id]
	if !ok {
		http.Error(w, "unknown dome "+id, http.StatusNotFound)
		return nil
	}
	return c
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "domes": len(s.order)})
}

// handleStatus is the fleet roll-up: one Status per dome, in config order. A
// dome in SHUTDOWN is reported, never hidden.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	out := make([]dome.Status, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Status())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDomes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.order)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, c.History(limit))
}

func (s *Server) handleEmergencies(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c.Events())
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c.Transitions())
}

type modeRequest struct {
	Mode string `json:"mode"`
}

// handleModeRequest translates the mode machine's sentinels into status
// codes: denied transitions and an unready substrate are conflicts, a shut
// down dome is gone.
func (s *Server) handleModeRequest(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	target, err := modes.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.RequestMode(target); err != nil {
		switch {
		case errors.Is(err, modes.ErrTerminal):
			http.Error(w, err.Error(), http.StatusGone)
		case errors.Is(err, modes.ErrTransitionDenied), errors.Is(err, dome.ErrSubstrateNotReady):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		s.d.Log.Warn("mode request rejected", "dome", c.ID(), "target", req.Mode, "err", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"dome": c.ID(), "mode": c.Mode().String()})
}

type setpointRequest struct {
	Mode     string             `json:"mode"`
	Setpoint telemetry.Setpoint `json:"setpoint"`
}

// handleSetpointUpdate replaces one mode's setpoint profile. Out-of-envelope
// profiles and immutable targets are the caller's problem, not the dome's.
func (s *Server) handleSetpointUpdate(w http.ResponseWriter, r *http.Request) {
	c := s.lookup(w, r)
	if c == nil {
		return
	}
	var req setpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	target, err := modes.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.UpdateSetpoint(target, req.Setpoint); err != nil {
		switch {
		case errors.Is(err, dome.ErrShutDown):
			http.Error(w, err.Error(), http.StatusGone)
		case errors.Is(err, dome.ErrProfileImmutable):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		s.d.Log.Warn("setpoint update rejected", "dome", c.ID(), "mode", req.Mode, "err", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dome": c.ID(), "mode": target.String(), "setpoint": req.Setpoint})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.d.Journal == nil {
		http.Error(w, "journal not configured", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	writeJSON(w, http.StatusOK, s.d.Journal.Records(q.Get("type"), q.Get("dome")))
}
