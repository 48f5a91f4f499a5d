package gateway

import (
	"context"
	"encoding/json"
	"runtime/debug"

	"sketchsync/internal/app/board"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/logx"
)

// MessageHandler handles one inbound event type.
type MessageHandler interface {
	EventType() board.EventType
	HandleMessage(ctx context.Context, c *Conn, in Inbound) error
}

// MessageRouter dispatches inbound events to their handlers.
type MessageRouter struct {
	handlers map[board.EventType]MessageHandler
}

// NewMessageRouter creates a router with every client event registered.
func NewMessageRouter() *MessageRouter {
	router := &MessageRouter{
		handlers: make(map[board.EventType]MessageHandler),
	}

	router.RegisterHandler(joinRoomHandler{})
	router.RegisterHandler(leaveRoomHandler{})
	router.RegisterHandler(operationHandler{event: board.EventDraw})
	router.RegisterHandler(operationHandler{event: board.EventStroke})
	router.RegisterHandler(operationHandler{event: board.EventClearCanvas})
	router.RegisterHandler(historyHandler{action: board.EventUndo})
	router.RegisterHandler(historyHandler{action: board.EventRedo})
	router.RegisterHandler(requestCanvasHandler{})
	router.RegisterHandler(publishCanvasHandler{})
	router.RegisterHandler(sendMessageHandler{})
	router.RegisterHandler(typingHandler{typing: true})
	router.RegisterHandler(typingHandler{typing: false})

	return router
}

// RegisterHandler registers a handler for its event type, replacing any previous one.
func (r *MessageRouter) RegisterHandler(handler MessageHandler) {
	r.handlers[handler.EventType()] = handler
}

// RouteMessage decodes the envelope and runs the matching handler.
func (r *MessageRouter) RouteMessage(ctx context.Context, c *Conn, message []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logx.Error(nil, "Panic while routing message", "panic", rec, "stack", string(debug.Stack()))
			err = errs.NewError(errs.ErrUnknown)
		}
	}()

	var in Inbound
	if err := json.Unmarshal(message, &in); err != nil {
		c.gw.metrics.RejectedEvents.WithLabelValues("malformed").Inc()
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	handler, ok := r.handlers[in.Type]
	if !ok {
		c.gw.metrics.RejectedEvents.WithLabelValues("unsupported").Inc()
		return errs.NewError(errs.ErrUnsupportedEvent, in.Type)
	}

	return handler.HandleMessage(ctx, c, in)
}
