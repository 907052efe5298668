// Package httpapi implements the HTTP Audio Server: cached-audio
// streaming, health/metrics/security endpoints, and the WebSocket
// upgrade route the Connection Supervisor serves from.
package httpapi

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/voicebridge/hub/internal/adminidentity"
	"github.com/voicebridge/hub/internal/audiocache"
	"github.com/voicebridge/hub/internal/config"
	"github.com/voicebridge/hub/internal/identity"
	"github.com/voicebridge/hub/internal/observability"
	"github.com/voicebridge/hub/internal/session"
)

// WSHandler is implemented by the Connection Supervisor.
type WSHandler interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	ActiveConnections() int
}

// Server is the hub's HTTP surface.
type Server struct {
	cfg      config.Config
	sessions *session.Manager
	admins   *adminidentity.Manager
	tokens   *identity.TokenStore
	cache    *audiocache.Cache
	metrics  *observability.Metrics
	ws       WSHandler
}

// New builds a Server.
func New(cfg config.Config, sessions *session.Manager, admins *adminidentity.Manager, tokens *identity.TokenStore, cache *audiocache.Cache, metrics *observability.Metrics, ws WSHandler) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		admins:   admins,
		tokens:   tokens,
		cache:    cache,
		metrics:  metrics,
		ws:       ws,
	}
}

// Router builds the chi mux.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/security", s.handleSecurity)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/metrics/latency", s.handlePerfLatency)

	r.Get("/ws", s.ws.HandleWS)
	r.Get("/audio/{filename}", s.handleAudio)

	return r
}

// AudioURL returns the path a client fetches artifactID from, used to
// populate the Broadcaster's outbound Translation.AudioURL.
func AudioURL(artifactID, format string) string {
	ext := format
	if ext == "" {
		ext = "bin"
	}
	return "/audio/" + artifactID + "." + ext
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"activeSessions":    s.sessions.ActiveCount(),
		"activeConnections": s.ws.ActiveConnections(),
		"activeAdminSockets": s.admins.ActiveSocketCount(),
		"authenticatedSockets": s.tokens.Count(),
		"audioCache":        s.cache.Stats(),
	})
}

func (s *Server) handleSecurity(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{"rateLimitRejections": nil})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"perIPPerSecond": s.cfg.RateLimitPerIPPerSecond,
		"perOpPerSecond": s.cfg.RateLimitPerOpPerSecond,
		"blockDuration":  s.cfg.IPBlockDuration.String(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
			"indicators":   []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}

// handleAudio streams a cached artifact by filename (artifactId.ext),
// rejecting anything that isn't a bare filename to block path traversal.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}
	artifactID := strings.TrimSuffix(filename, filepath.Ext(filename))

	f, artifact, err := s.cache.Open(artifactID)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", mimeForFormat(artifact.Format))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, filename, artifact.CreatedAt, f)
}

func mimeForFormat(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
