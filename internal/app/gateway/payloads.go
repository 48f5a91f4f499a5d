package gateway

import (
	"encoding/json"

	"sketchsync/internal/app/board"
)

// Inbound is the envelope of every client event.
type Inbound struct {
	Type    board.EventType `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

type joinRoomPayload struct {
	RoomID      string `json:"roomId" validate:"required,max=64,printascii"`
	Username    string `json:"username" validate:"required,max=32"`
	HasPassword bool   `json:"hasPassword"`
	Password    string `json:"password" validate:"max=128"`
	ResumeToken string `json:"resumeToken" validate:"max=4096"`
}

// roomPayload is the common part of every room event: the room it is addressed to.
type roomPayload struct {
	RoomID string `json:"roomId" validate:"max=64"`
}

type drawPayload struct {
	RoomID string `json:"roomId" validate:"max=64"`
	Kind   string `json:"kind" validate:"omitempty,oneof=stroke shape text"`
}

type chatPayload struct {
	RoomID  string `json:"roomId" validate:"max=64"`
	Message string `json:"message" validate:"required"`
}

type publishCanvasPayload struct {
	RoomID          string `json:"roomId" validate:"max=64"`
	CanvasData      string `json:"canvasData" validate:"required"`
	Seq             uint64 `json:"seq"`
	HistoryRevision uint64 `json:"historyRevision"`
}
