package board

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"sketchsync/internal/pkg/errs"
)

// Event is a room event submitted by a participant.
// The concrete types are OperationEvent, ChatEvent and TypingEvent.
type Event interface {
	eventType() EventType
}

// OperationEvent is a draw, stroke or clear-canvas event.
type OperationEvent struct {
	Event  EventType
	Kind   OpKind
	Data   json.RawMessage
	TempID string
}

func (e OperationEvent) eventType() EventType { return e.Event }

// ChatEvent is a send-message event.
type ChatEvent struct {
	Text string
}

func (ChatEvent) eventType() EventType { return EventSendMessage }

// TypingEvent is a typing or stop-typing event.
type TypingEvent struct {
	Typing bool
}

func (e TypingEvent) eventType() EventType {
	if e.Typing {
		return EventTyping
	}
	return EventStopTyping
}

// Receipt describes what the room recorded for a published event.
type Receipt struct {
	Operation *DrawOperation
	Chat      *ChatMessage
}

// Broadcaster publishes participant events into their room's total order.
type Broadcaster struct {
	registry *Registry
}

// NewBroadcaster creates a Broadcaster over the rooms of registry.
func NewBroadcaster(registry *Registry) *Broadcaster {
	return &Broadcaster{registry: registry}
}

// Publish orders ev in roomID and delivers it to the other members.
// Draw operations receive the next sequence number, which is acknowledged to the author.
func (b *Broadcaster) Publish(ctx context.Context, roomID, participantID string, ev Event) (Receipt, error) {
	if err := b.validate(ev); err != nil {
		b.registry.opts.Metrics.RejectedEvents.WithLabelValues("validation").Inc()
		return Receipt{}, err
	}

	var receipt Receipt
	err := b.registry.withRoom(ctx, roomID, func(room *Room) error {
		switch e := ev.(type) {
		case OperationEvent:
			op, err := room.handleOperation(participantID, e)
			if err != nil {
				return err
			}
			receipt.Operation = &op

		case ChatEvent:
			chat, err := room.handleChat(participantID, e.Text)
			if err != nil {
				return err
			}
			receipt.Chat = &chat

		case TypingEvent:
			return room.handleTyping(participantID, e.Typing, time.Now())

		default:
			return errs.NewError(errs.ErrUnsupportedEvent, ev.eventType())
		}
		return nil
	})

	return receipt, err
}

func (b *Broadcaster) validate(ev Event) error {
	switch e := ev.(type) {
	case nil:
		return errs.NewError(errs.ErrInvalidParams)

	case OperationEvent:
		switch e.Event {
		case EventDraw, EventStroke:
			switch e.Kind {
			case KindStroke, KindShape, KindText:
			default:
				return errs.NewError(errs.ErrInvalidParams)
			}
		case EventClearCanvas:
			if e.Kind != KindClear {
				return errs.NewError(errs.ErrInvalidParams)
			}
		default:
			return errs.NewError(errs.ErrUnsupportedEvent, e.Event)
		}
		if len(e.Data) > b.registry.opts.MaxSnapshotBytes {
			return errs.NewError(errs.ErrPayloadTooLarge)
		}

	case ChatEvent:
		if e.Text == "" {
			return errs.NewError(errs.ErrInvalidParams)
		}
		if utf8.RuneCountInString(e.Text) > b.registry.opts.MaxChatLength {
			return errs.NewError(errs.ErrMessageContentTooLong)
		}
	}
	return nil
}

// Coordinator applies undo and redo requests against a room's shared history.
type Coordinator struct {
	registry *Registry
}

// NewCoordinator creates a Coordinator over the rooms of registry.
func NewCoordinator(registry *Registry) *Coordinator {
	return &Coordinator{registry: registry}
}

// Undo reverts the most recent undoable operation of roomID, whoever authored it.
// It returns false when there was nothing to undo.
func (c *Coordinator) Undo(ctx context.Context, roomID, participantID string) (HistoryPayload, bool, error) {
	return c.apply(ctx, roomID, participantID, EventUndo)
}

// Redo re-applies the most recently undone operation of roomID.
// It returns false when there was nothing to redo.
func (c *Coordinator) Redo(ctx context.Context, roomID, participantID string) (HistoryPayload, bool, error) {
	return c.apply(ctx, roomID, participantID, EventRedo)
}

func (c *Coordinator) apply(ctx context.Context, roomID, participantID string, action EventType) (HistoryPayload, bool, error) {
	var (
		payload HistoryPayload
		applied bool
	)
	err := c.registry.withRoom(ctx, roomID, func(room *Room) error {
		var err error
		payload, applied, err = room.handleHistory(participantID, action)
		return err
	})
	return payload, applied, err
}

// CanvasUpload is a client-rendered canvas covering every active operation up to Seq,
// rendered at HistoryRevision.
type CanvasUpload struct {
	CanvasData      string
	Seq             uint64
	HistoryRevision uint64
}

// Snapshots serves and stores the canvas snapshots used to bring members up to date.
type Snapshots struct {
	registry *Registry
}

// NewSnapshots creates a Snapshots service over the rooms of registry.
func NewSnapshots(registry *Registry) *Snapshots {
	return &Snapshots{registry: registry}
}

// Request returns the current canvas of roomID: the stored blob, if any, plus every
// active operation after it.
func (s *Snapshots) Request(ctx context.Context, roomID string) (CanvasPayload, error) {
	var payload CanvasPayload
	err := s.registry.withRoom(ctx, roomID, func(room *Room) error {
		payload = room.canvasPayload()
		return nil
	})
	return payload, err
}

// Resync delivers canvas-data to participantID in order with the room's other events.
func (s *Snapshots) Resync(ctx context.Context, roomID, participantID string) (CanvasPayload, error) {
	var payload CanvasPayload
	err := s.registry.withRoom(ctx, roomID, func(room *Room) error {
		var err error
		payload, err = room.handleResync(participantID)
		return err
	})
	return payload, err
}

// Publish stores a canvas blob. Blobs older than the stored one, ahead of the room,
// or rendered before the latest undo/redo are rejected as stale.
func (s *Snapshots) Publish(ctx context.Context, roomID, participantID string, in CanvasUpload) error {
	if in.CanvasData == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if len(in.CanvasData) > s.registry.opts.MaxSnapshotBytes {
		return errs.NewError(errs.ErrPayloadTooLarge)
	}

	return s.registry.withRoom(ctx, roomID, func(room *Room) error {
		return room.handlePublishCanvas(participantID, in)
	})
}

// Empty reports whether the canvas has neither a blob nor operations.
func (p CanvasPayload) Empty() bool {
	return p.CanvasData == "" && len(p.Operations) == 0
}
