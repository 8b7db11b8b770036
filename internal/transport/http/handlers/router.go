package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vedran77/ideahub/internal/auth"
	"github.com/vedran77/ideahub/internal/metrics"
	"github.com/vedran77/ideahub/internal/ratelimit"
	"github.com/vedran77/ideahub/internal/service"
	"github.com/vedran77/ideahub/internal/transport/http/middleware"
)

type RouterConfig struct {
	Teams          *service.TeamService
	Chat           *service.ChatService
	Verifier       *auth.Verifier
	JoinLimiter    ratelimit.Limiter
	AllowedOrigins []string
	Log            *slog.Logger
	Metrics        *metrics.Metrics

	// WebSocket and MetricsHandler are mounted when non-nil.
	WebSocket      http.Handler
	MetricsHandler http.Handler
	// Ready reports storage health for /health.
	Ready func(r *http.Request) error
}

// NewRouter wires every route under /api/v1 plus the operational endpoints.
func NewRouter(cfg RouterConfig) http.Handler {
	teamHandler := NewTeamHandler(cfg.Teams, cfg.JoinLimiter, cfg.Metrics, cfg.Log)
	messageHandler := NewMessageHandler(cfg.Chat, cfg.Log)
	protect := middleware.Auth(cfg.Verifier)

	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r); err != nil {
				cfg.Log.Warn("health check failed", "err", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	if cfg.WebSocket != nil {
		mux.Handle("GET /ws", cfg.WebSocket)
	}

	// Protected - Projects
	mux.Handle("POST /api/v1/projects", protect(http.HandlerFunc(teamHandler.CreateProject)))
	mux.Handle("PUT /api/v1/projects/{id}/capacity", protect(http.HandlerFunc(teamHandler.UpdateCapacity)))
	mux.Handle("GET /api/v1/projects/{id}/dashboard", protect(http.HandlerFunc(teamHandler.Dashboard)))
	mux.Handle("GET /api/v1/teams/mine", protect(http.HandlerFunc(teamHandler.MyTeams)))

	// Protected - Join requests
	mux.Handle("POST /api/v1/projects/{id}/join-requests", protect(http.HandlerFunc(teamHandler.SubmitJoinRequest)))
	mux.Handle("GET /api/v1/projects/{id}/join-requests", protect(http.HandlerFunc(teamHandler.ListJoinRequests)))
	mux.Handle("GET /api/v1/projects/{id}/join-requests/mine", protect(http.HandlerFunc(teamHandler.MyJoinRequest)))
	mux.Handle("PUT /api/v1/projects/{id}/join-requests/{reqId}/accept", protect(http.HandlerFunc(teamHandler.AcceptJoinRequest)))
	mux.Handle("PUT /api/v1/projects/{id}/join-requests/{reqId}/reject", protect(http.HandlerFunc(teamHandler.RejectJoinRequest)))

	// Protected - Members
	mux.Handle("PUT /api/v1/projects/{id}/members/{userId}/remove", protect(http.HandlerFunc(teamHandler.RemoveMember)))
	mux.Handle("PUT /api/v1/projects/{id}/leave", protect(http.HandlerFunc(teamHandler.Leave)))

	// Protected - Messages
	mux.Handle("GET /api/v1/projects/{id}/messages", protect(http.HandlerFunc(messageHandler.List)))

	return middleware.RequestLogger(cfg.Log, cfg.Metrics)(middleware.CORS(cfg.AllowedOrigins)(mux))
}
