// Package api exposes the alignment service over HTTP: the latest result as
// JSON, a server-sent event stream for live views, run history queries, and
// start/stop control of the acquisition loop.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/me-systeme/alignprobe/internal/align"
	"github.com/me-systeme/alignprobe/internal/config"
	"github.com/me-systeme/alignprobe/internal/db"
)

// Controller is the slice of the acquisition service the HTTP layer drives.
// *align.Runner satisfies the read side; session start/stop lives with the
// owner of the runner goroutine.
type Controller interface {
	// StartSession launches a new acquisition session. Returns
	// align.ErrRunning if one is already active.
	StartSession() error

	// StopSession requests the active session to stop. Stopping an idle
	// controller is a no-op.
	StopSession()

	State() align.State
	Latest() *align.AlignmentResult
	Config() *config.Config

	// Configure replaces the configuration; align.ErrRunning while active.
	Configure(*config.Config) error
}

// Server serves the alignment HTTP API. The store is optional; history
// endpoints report 503 when no database is attached.
type Server struct {
	ctrl  Controller
	store *db.DB
}

func NewServer(ctrl Controller, store *db.DB) *Server {
	return &Server{ctrl: ctrl, store: store}
}

// Routes returns the ServeMux with all API endpoints registered.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/alignment/latest", s.handleLatest)
	mux.HandleFunc("/api/alignment/stream", s.handleStream)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/control/start", s.handleStart)
	mux.HandleFunc("/api/control/stop", s.handleStop)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/", s.handleRunResults)
	mux.HandleFunc("/api/plot.png", s.handlePlotPNG)
	mux.HandleFunc("/view", s.handleView)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleLatest returns the most recent alignment result, or 204 when no
// batch has completed yet.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	res := s.ctrl.Latest()
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, res)
}

// handleStream pushes alignment results as server-sent events. The stream
// polls the publisher at the configured refresh interval and emits an event
// only when a new batch has landed, so idle sessions stay quiet.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Initial comment so proxies and clients see the stream is alive.
	fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.ctrl.Config().View.RefreshInterval())
	defer ticker.Stop()

	var lastSeq uint64
	sent := false
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			res := s.ctrl.Latest()
			if res == nil || (sent && res.Seq == lastSeq) {
				continue
			}
			payload, err := json.Marshal(res)
			if err != nil {
				log.Printf("[API] marshal stream event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
			lastSeq = res.Seq
			sent = true
		}
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	s.writeJSON(w, map[string]string{"state": s.ctrl.State().String()})
}

// handleConfig returns the active configuration on GET and replaces it on
// PUT. Reconfiguration is rejected while an acquisition session is active.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, s.ctrl.Config())
	case http.MethodPut:
		cfg := config.Default()
		if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
		if err := s.ctrl.Configure(cfg); err != nil {
			if errors.Is(err, align.ErrRunning) {
				s.writeJSONError(w, http.StatusConflict, "cannot reconfigure while acquisition is running")
				return
			}
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSON(w, map[string]string{"status": "ok"})
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET or PUT")
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	if err := s.ctrl.StartSession(); err != nil {
		if errors.Is(err, align.ErrRunning) {
			s.writeJSONError(w, http.StatusConflict, "acquisition already running")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Printf("[API] acquisition session started")
	s.writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	s.ctrl.StopSession()
	log.Printf("[API] acquisition stop requested")
	s.writeJSON(w, map[string]string{"status": "stopping"})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no run database attached")
		return
	}
	runs, err := s.store.ListRuns()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, map[string]any{"runs": runs})
}

// handleRunResults serves /api/runs/{id}/results.
func (s *Server) handleRunResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no run database attached")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	runID, ok := strings.CutSuffix(rest, "/results")
	if !ok || runID == "" || strings.Contains(runID, "/") {
		s.writeJSONError(w, http.StatusNotFound, "not found; use /api/runs/{id}/results")
		return
	}
	rows, err := s.store.RunResults(runID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(rows) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no results for run "+runID)
		return
	}
	s.writeJSON(w, map[string]any{"run_id": runID, "results": rows})
}
