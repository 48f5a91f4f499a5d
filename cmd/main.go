/*
Package main is the entry point for the SketchSync room server.

It is responsible for loading configuration, initializing the global logging system,
building the room registry and websocket gateway, setting up the HTTP server, and
gracefully handling operating system interrupt signals (SIGINT, SIGTERM)
to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sketchsync/internal/app/board"
	"sketchsync/internal/app/gateway"
	"sketchsync/internal/app/presence"
	"sketchsync/internal/configs"
	"sketchsync/internal/handler"
	"sketchsync/internal/pkg/logx"
	"sketchsync/internal/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("room_idle_grace", cfg.RoomIdleGrace).
		Int("history_limit", cfg.HistoryLimit).
		Bool("presence_mirror", cfg.RedisURL != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	opts := board.OptionsFromConfig(cfg)
	opts.Metrics = m

	deps := &handler.AppDeps{Config: cfg, Metrics: m}

	var (
		directory *presence.RedisDirectory
		mirror    *presence.Mirror
	)
	if cfg.RedisURL != "" {
		directory, err = presence.NewRedisDirectory(ctx, cfg.RedisURL)
		if err != nil {
			logx.Fatal(err, "Failed to connect to presence store")
		}

		// rooms live in memory only; entries left by a previous process are stale
		if err := directory.Reset(ctx); err != nil {
			logx.Fatal(err, "Failed to reset presence store")
		}

		mirror = presence.NewMirror(directory)
		opts.Presence = mirror
		deps.Presence = directory
	}

	registry := board.NewRegistry(opts)
	gw := gateway.New(registry, gateway.Options{})
	deps.Registry = registry
	deps.Gateway = gw

	// Setup HTTP server and routes
	router := handler.Router(ctx, deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("SketchSync server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "HTTP server forced to shutdown")
	}

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Connections did not drain before the deadline")
	}

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Rooms did not stop before the deadline")
	}

	if mirror != nil {
		mirror.Close()
		if err := directory.Shutdown(); err != nil {
			logx.Error(err, "Failed to close presence store")
		}
	}

	logx.Info("Server gracefully stopped.")
}
