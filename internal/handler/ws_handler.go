/*
Package handler provides the HTTP handler function for WebSocket connection upgrading.

A connection is not bound to a room at upgrade time: the client sends join-room over the
socket, and the gateway performs admission.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/limiter"
	"sketchsync/internal/pkg/logx"
	"sketchsync/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		deps.Gateway.Serve(conn)
	}
}
