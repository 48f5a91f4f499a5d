package handler

import (
	"context"

	"sketchsync/internal/app/board"
	"sketchsync/internal/app/gateway"
	"sketchsync/internal/configs"
	"sketchsync/internal/pkg/metrics"
)

// Pinger reports whether an external dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type AppDeps struct {
	Config   *configs.AppConfig
	Registry *board.Registry
	Gateway  *gateway.Gateway
	Metrics  *metrics.Metrics

	// Presence is nil when the Redis mirror is disabled.
	Presence Pinger
}
