package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchsync/internal/app/board"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/logx"
)

func TestMain(m *testing.M) {
	logx.InitTestLogger(os.Stderr, zerolog.Disabled)
	os.Exit(m.Run())
}

type testServer struct {
	url      string
	registry *board.Registry
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	reg := board.NewRegistry(board.Options{ResumeTokenSecret: "test-secret"})
	gw := New(reg, opts)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		gw.Serve(ws)
	}))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		_ = reg.Shutdown(ctx)
		srv.Close()
	})

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		registry: reg,
	}
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (s *testServer) dial(t *testing.T) *testClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(t board.EventType, payload any, tempID string) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteJSON(Inbound{Type: t, Payload: raw, TempID: tempID}))
}

func (c *testClient) next() (board.Message, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		return board.Message{}, err
	}
	var msg board.Message
	err := c.ws.ReadJSON(&msg)
	return msg, err
}

// waitFor reads until an event of type t arrives.
func (c *testClient) waitFor(t board.EventType) board.Message {
	c.t.Helper()
	for {
		msg, err := c.next()
		require.NoError(c.t, err, "waiting for %s", t)
		if msg.Type == t {
			return msg
		}
	}
}

// waitClose reads until the server closes the connection and returns the close code.
func (c *testClient) waitClose() int {
	c.t.Helper()
	for {
		_, err := c.next()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(c.t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		return closeErr.Code
	}
}

func (c *testClient) join(roomID, name string, extra map[string]any) board.RoomJoinedPayload {
	c.t.Helper()
	payload := map[string]any{"roomId": roomID, "username": name}
	for k, v := range extra {
		payload[k] = v
	}
	c.send(board.EventJoinRoom, payload, "")
	return decode[board.RoomJoinedPayload](c.t, c.waitFor(board.EventRoomJoined))
}

func decode[T any](t *testing.T, msg board.Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

func TestJoinDeliversRoomStateFirst(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t)

	a.send(board.EventJoinRoom, map[string]any{"roomId": "R1", "username": "ana"}, "")

	first, err := a.next()
	require.NoError(t, err)
	assert.Equal(t, board.EventRoomJoined, first.Type)
	joined := decode[board.RoomJoinedPayload](t, first)
	assert.True(t, joined.IsNewRoom)
	assert.Equal(t, "ana", joined.Participant.DisplayName)
	assert.NotEmpty(t, joined.ResumeToken)

	second, err := a.next()
	require.NoError(t, err)
	assert.Equal(t, board.EventCanvasData, second.Type)
}

func TestDrawIsRelayedAndAcknowledged(t *testing.T) {
	srv := newTestServer(t, Options{})
	a, b := srv.dial(t), srv.dial(t)
	a.join("R1", "ana", nil)
	b.join("R1", "bo", nil)
	a.waitFor(board.EventUserJoined)

	a.send(board.EventDraw, map[string]any{"roomId": "R1", "tool": "pen", "x0": 1, "y0": 2}, "tmp-1")

	ack := decode[board.DrawAckPayload](t, a.waitFor(board.EventDrawAck))
	assert.Equal(t, "tmp-1", ack.TempID)
	assert.Equal(t, uint64(1), ack.Seq)

	relayed := b.waitFor(board.EventDraw)
	assert.Equal(t, uint64(1), relayed.Seq)
	op := decode[board.DrawOperation](t, relayed)
	assert.Equal(t, board.KindStroke, op.Kind)

	var data map[string]any
	require.NoError(t, json.Unmarshal(op.Data, &data))
	assert.Equal(t, "pen", data["tool"])
}

func TestUndoReachesEveryone(t *testing.T) {
	srv := newTestServer(t, Options{})
	a, b := srv.dial(t), srv.dial(t)
	a.join("R1", "ana", nil)
	b.join("R1", "bo", nil)

	a.send(board.EventStroke, map[string]any{"roomId": "R1"}, "")
	b.waitFor(board.EventStroke)

	b.send(board.EventUndo, map[string]any{"roomId": "R1"}, "")
	for _, c := range []*testClient{a, b} {
		payload := decode[board.HistoryPayload](t, c.waitFor(board.EventUndo))
		assert.Equal(t, uint64(1), payload.Operation.Seq)
		assert.Empty(t, payload.Operations)
	}
}

func TestRoomEventsBeforeJoinAreRejected(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t)

	a.send(board.EventDraw, map[string]any{"roomId": "R1"}, "")
	payload := decode[board.ErrorPayload](t, a.waitFor(board.EventError))
	assert.Equal(t, errs.ErrNotJoined, payload.Code)
}

func TestMalformedAndUnsupportedEvents(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t)

	require.NoError(t, a.ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, errs.ErrInvalidJSONFormat, decode[board.ErrorPayload](t, a.waitFor(board.EventError)).Code)

	a.send("room-joined", map[string]any{}, "")
	assert.Equal(t, errs.ErrUnsupportedEvent, decode[board.ErrorPayload](t, a.waitFor(board.EventError)).Code)

	a.send(board.EventJoinRoom, map[string]any{"roomId": "R1"}, "")
	assert.Equal(t, errs.ErrInvalidParams, decode[board.ErrorPayload](t, a.waitFor(board.EventError)).Code)
}

func TestWrongPasswordSendsJoinErrorAndAllowsRetry(t *testing.T) {
	srv := newTestServer(t, Options{})
	a, b := srv.dial(t), srv.dial(t)
	a.join("R1", "ana", map[string]any{"hasPassword": true, "password": "pw"})

	b.send(board.EventJoinRoom, map[string]any{"roomId": "R1", "username": "bo"}, "")
	joinErr := decode[board.JoinErrorPayload](t, b.waitFor(board.EventJoinError))
	assert.Equal(t, "Password required", joinErr.Message)

	b.send(board.EventJoinRoom, map[string]any{"roomId": "R1", "username": "bo", "hasPassword": true, "password": "nope"}, "")
	joinErr = decode[board.JoinErrorPayload](t, b.waitFor(board.EventJoinError))
	assert.Equal(t, "Incorrect password", joinErr.Message)

	joined := b.join("R1", "bo", map[string]any{"hasPassword": true, "password": "pw"})
	assert.Len(t, joined.Members, 2)
}

func TestSecondJoinIsRejected(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t)
	a.join("R1", "ana", nil)

	a.send(board.EventJoinRoom, map[string]any{"roomId": "R2", "username": "ana"}, "")
	assert.Equal(t, errs.ErrAlreadyJoined, decode[board.ErrorPayload](t, a.waitFor(board.EventError)).Code)
}

func TestTransportLossLeavesRoom(t *testing.T) {
	srv := newTestServer(t, Options{})
	a, b := srv.dial(t), srv.dial(t)
	a.join("R1", "ana", nil)
	joinedB := b.join("R1", "bo", nil)

	require.NoError(t, b.ws.Close())

	left := decode[board.PresencePayload](t, a.waitFor(board.EventUserLeft))
	assert.Equal(t, joinedB.Participant.ID, left.Participant.ID)
	assert.Len(t, left.Members, 1)
}

func TestLeaveRoomClosesConnection(t *testing.T) {
	srv := newTestServer(t, Options{})
	a, b := srv.dial(t), srv.dial(t)
	a.join("R1", "ana", nil)
	b.join("R1", "bo", nil)

	b.send(board.EventLeaveRoom, map[string]any{"roomId": "R1"}, "")
	assert.Equal(t, websocket.CloseNormalClosure, b.waitClose())
	a.waitFor(board.EventUserLeft)

	members, err := srv.registry.ListMembers(context.Background(), "R1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestLastDisconnectTearsRoomDown(t *testing.T) {
	srv := newTestServer(t, Options{})
	a := srv.dial(t)
	a.join("R1", "ana", nil)

	require.NoError(t, a.ws.Close())

	assert.Eventually(t, func() bool {
		_, err := srv.registry.Lookup(context.Background(), "R1")
		return err != nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestResumedSessionKicksPreviousConnection(t *testing.T) {
	srv := newTestServer(t, Options{})
	first, other := srv.dial(t), srv.dial(t)
	joined := first.join("R1", "ana", map[string]any{"hasPassword": true, "password": "pw"})
	other.join("R1", "bo", map[string]any{"hasPassword": true, "password": "pw"})

	second := srv.dial(t)
	resumed := second.join("R1", "ana", map[string]any{"resumeToken": joined.ResumeToken})
	assert.Equal(t, joined.Participant.ID, resumed.Participant.ID)

	assert.Equal(t, CloseCodeSessionKicked, first.waitClose())
	other.waitFor(board.EventPresenceUpdate)

	// the kicked connection closing must not remove the resumed session
	second.send(board.EventSendMessage, map[string]any{"roomId": "R1", "message": "back"}, "")
	chat := decode[board.ChatMessage](t, other.waitFor(board.EventReceiveMessage))
	assert.Equal(t, "back", chat.Text)
	assert.Equal(t, joined.Participant.ID, chat.AuthorID)
}

func TestExcessEventsAreRateLimited(t *testing.T) {
	srv := newTestServer(t, Options{EventRate: 0.1, EventBurst: 2})
	a := srv.dial(t)
	a.join("R1", "ana", nil)

	for range 3 {
		a.send(board.EventTyping, map[string]any{"roomId": "R1"}, "")
	}
	assert.Equal(t, errs.ErrRateLimitExceeded, decode[board.ErrorPayload](t, a.waitFor(board.EventError)).Code)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canTransition(StateConnecting, StateJoining))
	assert.True(t, canTransition(StateJoining, StateConnecting))
	assert.True(t, canTransition(StateJoining, StateJoined))
	assert.True(t, canTransition(StateJoined, StateLeaving))
	assert.True(t, canTransition(StateLeaving, StateClosed))

	assert.False(t, canTransition(StateConnecting, StateJoined))
	assert.False(t, canTransition(StateJoined, StateJoining))
	assert.False(t, canTransition(StateClosed, StateConnecting))
	assert.Equal(t, "joined", StateJoined.String())
}
