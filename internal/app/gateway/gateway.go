package gateway

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"sketchsync/internal/app/board"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/metrics"
)

const (
	defaultEventRate  = 60
	defaultEventBurst = 120

	// envelopeOverhead is the room left around the largest canvas blob in one frame.
	envelopeOverhead = 16 << 10
)

// Options tune the per-connection limits.
type Options struct {
	// MaxMessageBytes bounds one inbound frame. Defaults to the snapshot limit plus envelope overhead.
	MaxMessageBytes int64
	EventRate       rate.Limit
	EventBurst      int
}

// Gateway owns the websocket connections and routes their events into the engine.
type Gateway struct {
	registry    *board.Registry
	broadcaster *board.Broadcaster
	history     *board.Coordinator
	snapshots   *board.Snapshots
	router      *MessageRouter
	metrics     *metrics.Metrics
	opts        Options

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// New creates a Gateway serving the rooms of registry.
func New(registry *board.Registry, opts Options) *Gateway {
	engine := registry.Options()

	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = int64(engine.MaxSnapshotBytes) + envelopeOverhead
	}
	if opts.EventRate <= 0 {
		opts.EventRate = defaultEventRate
	}
	if opts.EventBurst <= 0 {
		opts.EventBurst = defaultEventBurst
	}

	return &Gateway{
		registry:    registry,
		broadcaster: board.NewBroadcaster(registry),
		history:     board.NewCoordinator(registry),
		snapshots:   board.NewSnapshots(registry),
		router:      NewMessageRouter(),
		metrics:     engine.Metrics,
		opts:        opts,
		conns:       make(map[*Conn]struct{}),
	}
}

// Serve starts the pumps of an upgraded connection and returns immediately.
func (g *Gateway) Serve(ws *websocket.Conn) {
	c := newConn(g, ws)

	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()

	g.metrics.Connections.Inc()
	g.wg.Add(1)

	go c.WritePump()
	go func() {
		c.ReadPump()

		g.mu.Lock()
		delete(g.conns, c)
		g.mu.Unlock()
	}()
}

// Shutdown closes every connection and waits for their cleanup.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	reason := errs.NewError(errs.ErrServerShuttingDown)
	for c := range g.conns {
		c.Kick(reason)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
