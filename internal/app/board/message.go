/*
Package board contains the room synchronization engine of the whiteboard server.

This file defines the wire envelope exchanged with clients and the payload structures
carried by each event type.
*/
package board

import (
	"encoding/json"
	"fmt"
	"time"

	"sketchsync/internal/app/participant"
	"sketchsync/internal/pkg/randx"
)

// EventType names a websocket event. Inbound and outbound events share the namespace.
type EventType string

const (
	EventJoinRoom       EventType = "join-room"
	EventRoomJoined     EventType = "room-joined"
	EventJoinError      EventType = "join-error"
	EventLeaveRoom      EventType = "leave-room"
	EventUserJoined     EventType = "user-joined"
	EventUserLeft       EventType = "user-left"
	EventPresenceUpdate EventType = "presence-update"

	EventDraw          EventType = "draw"
	EventStroke        EventType = "stroke"
	EventClearCanvas   EventType = "clear-canvas"
	EventDrawAck       EventType = "draw-ack"
	EventUndo          EventType = "undo"
	EventRedo          EventType = "redo"
	EventRequestCanvas EventType = "request-canvas"
	EventCanvasData    EventType = "canvas-data"
	EventPublishCanvas EventType = "publish-canvas"

	EventSendMessage    EventType = "send-message"
	EventReceiveMessage EventType = "receive-message"
	EventTyping         EventType = "typing"
	EventStopTyping     EventType = "stop-typing"
	EventUserTyping     EventType = "user-typing"
	EventUserStopTyping EventType = "user-stop-typing"

	EventError EventType = "error"
)

// OpKind classifies a draw operation.
type OpKind string

const (
	KindStroke OpKind = "stroke"
	KindShape  OpKind = "shape"
	KindText   OpKind = "text"
	KindClear  OpKind = "clear"
)

// Message is the outbound envelope delivered to peers.
type Message struct {
	ID        string                  `json:"id"`
	Type      EventType               `json:"type"`
	RoomID    string                  `json:"roomId"`
	Sender    participant.Participant `json:"sender"`
	Seq       uint64                  `json:"seq,omitempty"`
	Payload   json.RawMessage         `json:"payload,omitempty"`
	Timestamp int64                   `json:"timestamp"`
}

// NewMessage creates and initializes a new Message instance.
// It marshals the payload into JSON and stamps a fresh ID and the current time in Unix milliseconds.
func NewMessage(msgType EventType, roomID string, sender participant.Participant, payload any) (Message, error) {
	var raw json.RawMessage

	if payload != nil {
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
		}
		raw = payloadBytes
	}

	return Message{
		ID:        randx.MessageID(),
		Type:      msgType,
		RoomID:    roomID,
		Sender:    sender,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// DrawOperation is a single ordered change to the shared canvas.
type DrawOperation struct {
	Seq       uint64          `json:"seq"`
	Kind      OpKind          `json:"kind"`
	Event     EventType       `json:"event"`
	AuthorID  string          `json:"authorId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ChatMessage is a chat line kept in the room's bounded history.
type ChatMessage struct {
	ID          string `json:"id"`
	RoomID      string `json:"roomId"`
	AuthorID    string `json:"authorId"`
	DisplayName string `json:"username"`
	Text        string `json:"message"`
	Timestamp   int64  `json:"timestamp"`
}

// RoomJoinedPayload is delivered to a newly admitted participant before any other room event.
type RoomJoinedPayload struct {
	RoomID      string                    `json:"roomId"`
	Participant participant.Participant   `json:"participant"`
	Members     []participant.Participant `json:"members"`
	Messages    []ChatMessage             `json:"messages"`
	IsNewRoom   bool                      `json:"isNewRoom"`
	Protected   bool                      `json:"protected"`
	ResumeToken string                    `json:"resumeToken,omitempty"`
	LastSeq     uint64                    `json:"lastSeq"`
}

// JoinErrorPayload explains why an admission was refused.
type JoinErrorPayload struct {
	RoomID  string `json:"roomId"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PresencePayload carries the ordered member list after a membership change.
type PresencePayload struct {
	Participant participant.Participant   `json:"participant"`
	Members     []participant.Participant `json:"members"`
}

// CanvasPayload is the resync answer: the latest blob plus every active operation after it.
type CanvasPayload struct {
	CanvasData      string          `json:"canvasData,omitempty"`
	SnapshotSeq     uint64          `json:"snapshotSeq"`
	Operations      []DrawOperation `json:"operations"`
	LastSeq         uint64          `json:"lastSeq"`
	HistoryRevision uint64          `json:"historyRevision"`
}

// DrawAckPayload tells an author which sequence number its operation received.
type DrawAckPayload struct {
	TempID string `json:"tempId,omitempty"`
	Seq    uint64 `json:"seq"`
}

// HistoryPayload is broadcast after an applied undo or redo.
// Operations lists the active operations after SnapshotSeq; zero means the canvas
// must be rebuilt from the operations alone.
type HistoryPayload struct {
	Operation       DrawOperation   `json:"operation"`
	SnapshotSeq     uint64          `json:"snapshotSeq"`
	Operations      []DrawOperation `json:"operations"`
	LastSeq         uint64          `json:"lastSeq"`
	HistoryRevision uint64          `json:"historyRevision"`
}

// TypingPayload announces typing state changes.
type TypingPayload struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	Username      string `json:"username"`
}

// ErrorPayload reports a rejected event to its sender.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
