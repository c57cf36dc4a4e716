// Package api provides the HTTP server and handlers for the volume surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fruitsalade/volumefs/internal/auth"
	"github.com/fruitsalade/volumefs/internal/logging"
	"github.com/fruitsalade/volumefs/internal/metrics"
	"github.com/fruitsalade/volumefs/internal/volume"
)

// Server is the HTTP server over a volume registry.
type Server struct {
	registry *volume.Registry
	auth     *auth.Auth
	upgrader websocket.Upgrader
}

// NewServer creates a new server.
func NewServer(registry *volume.Registry, authHandler *auth.Auth) *Server {
	return &Server{
		registry: registry,
		auth:     authHandler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Volume access is governed by bearer tokens, not origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler with auth, logging, and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Volume endpoints
	protected := http.NewServeMux()
	protected.HandleFunc("GET /volumes/{volume}/files", s.handleSubscribe)
	protected.HandleFunc("GET /volumes/{volume}/files/{path...}", s.handleList)
	protected.HandleFunc("PUT /volumes/{volume}/files", s.handlePut)
	protected.HandleFunc("PATCH /volumes/{volume}/files", s.handlePatch)

	mux.Handle("/volumes/", s.auth.Middleware(protected))

	return metrics.Middleware(logging.Middleware(mux))
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ─── Volume resolution ──────────────────────────────────────────────────────

// resolveVolume loads the request's volume, enforcing token scope. A nil
// return means an error response has already been written.
func (s *Server) resolveVolume(w http.ResponseWriter, r *http.Request) *volume.Volume {
	id := r.PathValue("volume")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "volume id required")
		return nil
	}
	if claims := auth.GetClaims(r.Context()); !claims.AllowsVolume(id) {
		s.sendError(w, http.StatusForbidden, "token does not grant access to volume "+id)
		return nil
	}

	vol, err := s.registry.Get(r.Context(), id)
	if err != nil {
		logging.Error("volume load failed", zap.String("volume", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to load volume: "+err.Error())
		return nil
	}
	return vol
}

// ─── List ───────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	vol := s.resolveVolume(w, r)
	if vol == nil {
		return
	}

	path := "/" + r.PathValue("path")
	resp, err := vol.List(r.Context(), path, r.URL.Query().Get("content"))
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ─── Patch ──────────────────────────────────────────────────────────────────

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	vol := s.resolveVolume(w, r)
	if vol == nil {
		return
	}

	var req volume.PatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := vol.Patch(r.Context(), req)
	if err != nil {
		logging.Error("patch failed",
			zap.String("volume", vol.ID()),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// ─── Put ────────────────────────────────────────────────────────────────────

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	vol := s.resolveVolume(w, r)
	if vol == nil {
		return
	}

	var files map[string]volume.FileEntry
	if err := json.NewDecoder(r.Body).Decode(&files); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if _, err := vol.Put(r.Context(), files); err != nil {
		logging.Error("put failed",
			zap.String("volume", vol.ID()),
			zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── Errors ─────────────────────────────────────────────────────────────────

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
