// Package server exposes a read-only status API over the history store.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"banwatch/internal/store"
	"banwatch/pkg/source"
)

// Server provides the HTTP API.
type Server struct {
	store store.Store
	port  int
	log   zerolog.Logger
}

// New creates a new HTTP server.
func New(st store.Store, port int, log zerolog.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store: st,
		port:  port,
		log:   log.With().Str("component", "server").Logger(),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/subscriptions", s.handleSubscriptions)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/samples", s.handleSamples)

	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info().Str("addr", addr).Msg("status api listening")
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	subs, err := s.store.ListSubscriptions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type subInfo struct {
		Username string `json:"username"`
		Platform string `json:"platform"`
		ChatID   int64  `json:"chat_id"`
		Active   bool   `json:"active"`
	}
	infos := make([]subInfo, 0, len(subs))
	for _, sub := range subs {
		infos = append(infos, subInfo{
			Username: sub.Username,
			Platform: sub.Platform,
			ChatID:   sub.ChatID,
			Active:   sub.Active,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	username := source.Normalize(r.URL.Query().Get("username"))
	if username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username is required"})
		return
	}

	events, err := s.store.ListEvents(r.Context(), username, queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type eventInfo struct {
		Kind       string    `json:"kind"`
		DetectedAt time.Time `json:"detected_at"`
	}
	infos := make([]eventInfo, 0, len(events))
	for _, ev := range events {
		infos = append(infos, eventInfo{Kind: string(ev.Kind), DetectedAt: ev.DetectedAt})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	username := source.Normalize(r.URL.Query().Get("username"))
	if username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username is required"})
		return
	}

	samples, err := s.store.ListSamples(r.Context(), username, queryLimit(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type sampleInfo struct {
		Status     string    `json:"status"`
		Followers  *int64    `json:"follower_count,omitempty"`
		ObservedAt time.Time `json:"observed_at"`
	}
	infos := make([]sampleInfo, 0, len(samples))
	for _, sm := range samples {
		info := sampleInfo{Status: string(sm.Status), ObservedAt: sm.ObservedAt}
		if sm.FollowerCount.Valid {
			n := sm.FollowerCount.Int64
			info.Followers = &n
		}
		infos = append(infos, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"count": len(infos),
	})
}

func queryLimit(r *http.Request) int {
	var limit int
	fmt.Sscanf(r.URL.Query().Get("limit"), "%d", &limit)
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
