package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// query asks the control loop for a registry snapshot.
type query struct {
	reply chan snapshot
}

// snapshot is a read-only view of the registry, safe to serialize
// outside the loop.
type snapshot struct {
	Started  time.Time        `json:"started"`
	Uptime   string           `json:"uptime"`
	Users    int              `json:"users"`
	Sessions []sessionSummary `json:"sessions"`
}

type sessionSummary struct {
	ID        uint8  `json:"id"`
	Title     string `json:"title"`
	Owner     uint8  `json:"owner"`
	Users     int    `json:"users"`
	Limit     uint8  `json:"limit"`
	Width     uint16 `json:"width"`
	Height    uint16 `json:"height"`
	Protected bool   `json:"protected"`
	Locked    bool   `json:"locked"`
}

// snapshot builds the registry view. Loop only.
func (s *Server) snapshot() snapshot {
	snap := snapshot{
		Started: s.started,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Users:   len(s.users),
	}
	for _, sess := range s.sessions {
		snap.Sessions = append(snap.Sessions, sessionSummary{
			ID:        sess.id,
			Title:     sess.title,
			Owner:     sess.owner,
			Users:     len(sess.members),
			Limit:     sess.limit,
			Width:     sess.width,
			Height:    sess.height,
			Protected: sess.password != "",
			Locked:    sess.locked,
		})
	}
	return snap
}

// querySnapshot fetches a snapshot from the loop, bounded so HTTP
// handlers cannot hang on a stopped server.
func (s *Server) querySnapshot() (snapshot, bool) {
	q := query{reply: make(chan snapshot, 1)}
	select {
	case s.queries <- q:
	case <-time.After(2 * time.Second):
		return snapshot{}, false
	}
	select {
	case snap := <-q.reply:
		return snap, true
	case <-time.After(2 * time.Second):
		return snapshot{}, false
	}
}

// Routes builds the HTTP surface: the websocket endpoint, metrics
// and the read-only status API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/sessions", s.handleSessions)
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.querySnapshot()
	if !ok {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, snap)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.querySnapshot()
	if !ok {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	if snap.Sessions == nil {
		snap.Sessions = []sessionSummary{}
	}
	writeJSON(w, snap.Sessions)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
