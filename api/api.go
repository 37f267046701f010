// Package api exposes the engine's control surface over HTTP. One route
// per engine operation, JSON in and out, mirroring the MCP tools.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/boardwatch/board"
	"github.com/hazyhaar/boardwatch/engine"
	"github.com/hazyhaar/boardwatch/store"
)

// Server wraps the engine with an HTTP router.
type Server struct {
	eng    *engine.Engine
	store  *store.Store
	logger *slog.Logger
}

// New creates a Server. The store is used for the outcome history route
// and may be the same instance the engine persists to.
func New(eng *engine.Engine, st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{eng: eng, store: st, logger: logger}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/engine", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Put("/criteria", s.handleCriteria)
		r.Post("/check", s.handleCheck)
		r.Post("/book", s.handleBook)
		r.Get("/status", s.handleStatus)
		r.Get("/outcomes", s.handleOutcomes)
	})

	return r
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria *board.Criteria `json:"criteria"`
	}
	// An empty or malformed body starts with the persisted criteria.
	_ = json.NewDecoder(r.Body).Decode(&req)
	accepted := s.eng.Start(r.Context(), req.Criteria)
	writeJSON(w, 200, map[string]bool{"accepted": accepted})
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]bool{"accepted": s.eng.Stop()})
}

func (s *Server) handleCriteria(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Criteria board.Criteria `json:"criteria"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	s.eng.UpdateCriteria(r.Context(), req.Criteria)
	writeJSON(w, 200, map[string]bool{"accepted": true})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	records := s.eng.CheckNow(r.Context())
	if records == nil {
		records = []board.Load{}
	}
	writeJSON(w, 200, map[string]any{"records": records})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntryID string `json:"entry_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	o, err := s.eng.Book(r.Context(), req.EntryID)
	if errors.Is(err, engine.ErrUnknownEntry) {
		writeJSON(w, 404, map[string]any{"success": false, "reason": "unknown-entry"})
		return
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	resp := map[string]any{"success": o.Success}
	if o.Reason != "" {
		resp["reason"] = string(o.Reason)
	}
	writeJSON(w, 200, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, s.eng.Status())
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.store.RecentOutcomes(r.Context(), 50)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if outcomes == nil {
		outcomes = []board.Outcome{}
	}
	writeJSON(w, 200, map[string]any{"outcomes": outcomes})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
