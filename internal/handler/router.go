/*
Package handler provides the HTTP handlers and routing setup for the room server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/limiter"
	"sketchsync/internal/pkg/logx"
	"sketchsync/internal/pkg/resp"
)

const (
	CodeRate     = 0.2
	CodeBurst    = 5
	ConnectRate  = 0.5
	ConnectBurst = 10

	healthPingTimeout = 2 * time.Second
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
// The limiters' cleanup goroutines stop when ctx is cancelled.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	codeLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(CodeRate), CodeBurst)
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/api/rooms", func(rooms chi.Router) {
		rooms.Get("/{roomId}", HandleGetRoom(deps))
		rooms.Post("/check", HandleCheckRoom(deps))
		rooms.With(codeLimiter.Middleware).Post("/code", HandleNewRoomCode(deps))
	})

	r.Get("/ws", HandleWebSocket(deps, wsUpgrader, connectLimiter))

	return r
}

// HandleHealth reports liveness, plus the presence mirror when it is configured.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":  "ok",
			"service": "SketchSync Room Server",
			"rooms":   len(deps.Registry.RoomIDs()),
		}

		if deps.Presence != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
			defer cancel()

			if err := deps.Presence.Ping(ctx); err != nil {
				logx.Warn("Health check: presence store unreachable", "error", err.Error())
				resp.RespondError(w, r, errs.NewError(errs.ErrServiceUnavailable))
				return
			}
			data["presence"] = "ok"
		}

		resp.RespondSuccess(w, r, data)
	}
}
