/*
Package gateway binds websocket connections to the room engine.

This file defines the Conn struct, representing an active WebSocket connection. It manages the
connection's lifecycle state, the message communication loops (ReadPump and WritePump), and its
membership in at most one room.
*/
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"sketchsync/internal/app/board"
	"sketchsync/internal/app/participant"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/logx"
	"sketchsync/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// capacity of the outbound queue. A full queue gets the connection evicted from its room.
	sendQueueSize = 256

	// leaveTimeout bounds the room leave performed when the transport goes away.
	leaveTimeout = 5 * time.Second

	// CloseCodeSessionKicked signals that the session was replaced by a new connection.
	CloseCodeSessionKicked = 4001

	// CloseCodeBacklog signals that the connection could not keep up with its room.
	CloseCodeBacklog = 4008
)

// Conn struct represents an active WebSocket connection and the participant it serves.
type Conn struct {
	// id identifies the connection in logs.
	id string

	// underlying WebSocket connection object.
	ws *websocket.Conn

	gw *Gateway

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// ctx is cancelled when the transport goes away, abandoning any pending join.
	ctx    context.Context
	cancel context.CancelFunc

	// limiter drops inbound events beyond the per-connection rate.
	limiter *rate.Limiter

	// mu protects the fields below.
	mu          sync.Mutex
	state       State
	participant participant.Participant
	roomID      string
	sendClosed  bool
	closeFrame  []byte

	logger zerolog.Logger
}

func newConn(gw *Gateway, ws *websocket.Conn) *Conn {
	id := randx.MessageID()
	ctx, cancel := context.WithCancel(context.Background())

	return &Conn{
		id:      id,
		ws:      ws,
		gw:      gw,
		send:    make(chan []byte, sendQueueSize),
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(gw.opts.EventRate, gw.opts.EventBurst),
		state:   StateConnecting,
		logger:  logx.Logger().With().Str("conn_id", id).Logger(),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition moves the connection to the next state when the move is allowed.
func (c *Conn) transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Conn) transitionLocked(to State) bool {
	if !canTransition(c.state, to) {
		return false
	}

	c.logger.Debug().Stringer("from", c.state).Stringer("to", to).Msg("Connection state change.")
	c.state = to
	return true
}

// membership returns the room and participant while the connection is joined.
func (c *Conn) membership() (string, participant.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.participant, c.state == StateJoined
}

// Deliver implements board.Peer. It never blocks.
func (c *Conn) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Connection send queue full.")
		return false
	}
}

// Kick implements board.Peer. The room already dropped the participant; the transport
// is closed once the queued events are flushed.
func (c *Conn) Kick(reason *errs.CustomError) {
	code := websocket.CloseGoingAway
	switch reason.Code {
	case errs.ErrSessionKicked:
		code = CloseCodeSessionKicked
	case errs.ErrDeliveryBacklog:
		code = CloseCodeBacklog
	}

	c.logger.Warn().
		Int("close_code", code).
		Int("reason", reason.Code).
		Msg("Connection kicked from room.")

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.closeSend(websocket.FormatCloseMessage(code, reason.Message))
}

// closeSend closes the outbound queue. WritePump writes frame and terminates.
func (c *Conn) closeSend(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendClosed {
		return
	}
	c.sendClosed = true
	c.closeFrame = frame
	close(c.send)
}

// sendEvent queues a server event addressed to this connection only.
func (c *Conn) sendEvent(t board.EventType, roomID string, payload any) {
	msg, err := board.NewMessage(t, roomID, participant.System, payload)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build message.")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling message for connection.")
		return
	}

	if !c.Deliver(data) {
		c.logger.Warn().Str("type", string(t)).Msg("Dropped event for connection.")
	}
}

// SendError reports a rejected event to the client. Room lookups that fail are not reported.
func (c *Conn) SendError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	customErr := errs.From(err)
	if customErr.Code == errs.ErrRoomNotFound {
		return
	}

	roomID, _, _ := c.membership()
	c.sendEvent(board.EventError, roomID, board.ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
}

// ReadPump handles reading messages from the WebSocket connection.
// It handles heartbeats (Pong), routes events, and performs cleanup upon connection closure.
func (c *Conn) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.ws.SetReadLimit(c.gw.opts.MaxMessageBytes)

	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		if c.State() == StateClosed {
			break
		}

		if !c.limiter.Allow() {
			c.gw.metrics.RejectedEvents.WithLabelValues("rate_limited").Inc()
			c.SendError(errs.NewError(errs.ErrRateLimitExceeded))
			continue
		}

		if err := c.gw.router.RouteMessage(c.ctx, c, messageBytes); err != nil {
			c.SendError(err)
		}
	}
}

// cleanupOnDisconnect leaves the room, if any, and releases the connection.
func (c *Conn) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Connection cleanup starting.")
	c.cancel()

	c.leaveRoom()

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.closeSend(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	if err := c.ws.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Connection close error")
	}

	c.gw.metrics.Connections.Dec()
	c.gw.wg.Done()
}

// leaveRoom moves a joined connection through Leaving and detaches it from its room.
// The room ignores the detach when a newer connection took over the participant.
func (c *Conn) leaveRoom() {
	c.mu.Lock()
	roomID, p := c.roomID, c.participant
	wasJoined := c.state == StateJoined || (c.state == StateClosed && roomID != "")
	if c.state == StateJoined {
		c.transitionLocked(StateLeaving)
	}
	c.mu.Unlock()

	if !wasJoined {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	if err := c.gw.registry.Detach(ctx, p.ID, c); err != nil {
		c.logger.Warn().Err(err).Str("room_id", roomID).Msg("Failed to leave room.")
	}

	c.mu.Lock()
	c.roomID = ""
	c.transitionLocked(StateClosed)
	c.mu.Unlock()
}

// join runs the admission of this connection. Only a Connecting connection may join.
func (c *Conn) join(ctx context.Context, in joinRoomPayload) error {
	c.mu.Lock()
	switch c.state {
	case StateJoining, StateJoined:
		c.mu.Unlock()
		return errs.NewError(errs.ErrAlreadyJoined)
	case StateConnecting:
		c.transitionLocked(StateJoining)
	default:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	res, err := c.gw.registry.CreateOrJoin(ctx, board.JoinRequest{
		RoomID:      in.RoomID,
		DisplayName: in.Username,
		HasPassword: in.HasPassword,
		Password:    in.Password,
		ResumeToken: in.ResumeToken,
		Peer:        c,
	})
	if err != nil {
		c.transition(StateConnecting)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		customErr := errs.From(err)
		c.logger.Info().Int("code", customErr.Code).Str("room_id", in.RoomID).Msg("Join failed.")
		c.sendEvent(board.EventJoinError, in.RoomID, board.JoinErrorPayload{
			RoomID:  in.RoomID,
			Code:    customErr.Code,
			Message: customErr.Message,
		})
		return nil
	}

	c.mu.Lock()
	c.roomID = res.RoomID
	c.participant = res.Participant
	joined := c.transitionLocked(StateJoined)
	c.mu.Unlock()

	if !joined {
		// the transport went away or the session was replaced during admission;
		// cleanupOnDisconnect detaches the participant.
		return nil
	}

	c.logger.Info().
		Str("room_id", res.RoomID).
		Str("participant_id", res.Participant.ID).
		Bool("new_room", res.IsNewRoom).
		Msg("Connection joined room.")
	return nil
}

// leave handles an explicit leave-room: the participant leaves and the transport is closed.
func (c *Conn) leave() {
	c.leaveRoom()
	c.closeSend(websocket.FormatCloseMessage(websocket.CloseNormalClosure, "left room"))
}

// WritePump handles writing messages from the send channel to the WebSocket connection.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.cancel()

		// ensure the connection is closed on exit
		if err := c.ws.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage handles messages pulled from the send channel, writing them to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Conn) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.ws.WriteMessage(websocket.CloseMessage, c.closeFrame); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Info().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Conn) writePingMessage() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Info().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
