package gateway

import (
	"context"

	"sketchsync/internal/app/board"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/req"
)

// joinedRoom returns the room and participant of a joined connection.
// A payload addressed to another room is refused.
func (c *Conn) joinedRoom(payloadRoomID string) (string, string, error) {
	roomID, p, ok := c.membership()
	if !ok {
		return "", "", errs.NewError(errs.ErrNotJoined)
	}

	if payloadRoomID != "" && payloadRoomID != roomID {
		return "", "", errs.NewError(errs.ErrNotJoined)
	}

	return roomID, p.ID, nil
}

type joinRoomHandler struct{}

func (joinRoomHandler) EventType() board.EventType { return board.EventJoinRoom }

func (joinRoomHandler) HandleMessage(ctx context.Context, c *Conn, in Inbound) error {
	var payload joinRoomPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	return c.join(ctx, payload)
}

type leaveRoomHandler struct{}

func (leaveRoomHandler) EventType() board.EventType { return board.EventLeaveRoom }

func (leaveRoomHandler) HandleMessage(_ context.Context, c *Conn, in Inbound) error {
	var payload roomPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	if _, _, err := c.joinedRoom(payload.RoomID); err != nil {
		return err
	}

	c.leave()
	return nil
}

// operationHandler handles draw, stroke and clear-canvas. The whole payload is the
// opaque drawing data relayed to the other members.
type operationHandler struct {
	event board.EventType
}

func (h operationHandler) EventType() board.EventType { return h.event }

func (h operationHandler) HandleMessage(ctx context.Context, c *Conn, in Inbound) error {
	var payload drawPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	roomID, participantID, err := c.joinedRoom(payload.RoomID)
	if err != nil {
		return err
	}

	ev := board.OperationEvent{
		Event:  h.event,
		Kind:   board.OpKind(payload.Kind),
		Data:   in.Payload,
		TempID: in.TempID,
	}

	switch {
	case h.event == board.EventClearCanvas:
		ev.Kind = board.KindClear
		ev.Data = nil
	case ev.Kind == "":
		ev.Kind = board.KindStroke
	}

	_, err = c.gw.broadcaster.Publish(ctx, roomID, participantID, ev)
	return err
}

type historyHandler struct {
	action board.EventType
}

func (h historyHandler) EventType() board.EventType { return h.action }

func (h historyHandler) HandleMessage(ctx context.Context, c *Conn, in Inbound) error {
	var payload roomPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	roomID, participantID, err := c.joinedRoom(payload.RoomID)
	if err != nil {
		return err
	}

	if h.action == board.EventUndo {
		_, _, err = c.gw.history.Undo(ctx, roomID, participantID)
	} else {
		_, _, err = c.gw.history.Redo(ctx, roomID, participantID)
	}
	return err
}

type requestCanvasHandler struct{}

func (requestCanvasHandler) EventType() board.EventType { return board.EventRequestCanvas }

func (requestCanvasHandler) HandleMessage(ctx context.Context, c *Conn, in Inbound) error {
	var payload roomPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	roomID, participantID, err := c.joinedRoom(payload.RoomID)
	if err != nil {
		return err
	}

	_, err = c.gw.snapshots.Resync(ctx, roomID, participantID)
	return err
}

type publishCanvasHandler struct{}

func (publishCanvasHandler) EventType() board.EventType { return board.EventPublishCanvas }

func (publishCanvasHandler) HandleMessage(ctx context.Context, c *Conn, in Inbound) error {
	var payload publishCanvasPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	roomID, participantID, err := c.joinedRoom(payload.RoomID)
	if err != nil {
		return err
	}

	return c.gw.snapshots.Publish(ctx, roomID, participantID, board.CanvasUpload{
		CanvasData:      payload.CanvasData,
		Seq:             payload.Seq,
		HistoryRevision: payload.HistoryRevision,
	})
}

type sendMessageHandler struct{}

func (sendMessageHandler) EventType() board.EventType { return board.EventSendMessage }

func (sendMessageHandler) HandleMessage(ctx context.Context, c *Conn, in Inbound) error {
	var payload chatPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	roomID, participantID, err := c.joinedRoom(payload.RoomID)
	if err != nil {
		return err
	}

	_, err = c.gw.broadcaster.Publish(ctx, roomID, participantID, board.ChatEvent{Text: payload.Message})
	return err
}

type typingHandler struct {
	typing bool
}

func (h typingHandler) EventType() board.EventType {
	if h.typing {
		return board.EventTyping
	}
	return board.EventStopTyping
}

func (h typingHandler) HandleMessage(ctx context.Context, c *Conn, in Inbound) error {
	var payload roomPayload
	if err := req.BindPayload(in.Payload, &payload); err != nil {
		return err
	}

	roomID, participantID, err := c.joinedRoom(payload.RoomID)
	if err != nil {
		return err
	}

	_, err = c.gw.broadcaster.Publish(ctx, roomID, participantID, board.TypingEvent{Typing: h.typing})
	return err
}
