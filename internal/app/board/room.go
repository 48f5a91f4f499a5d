/*
Package board contains the room synchronization engine of the whiteboard server.

This file defines the Room struct, the single serialization domain of one whiteboard session.
Every state change of a room (membership, draw log, undo/redo stacks, canvas snapshot, chat
history and typing state) runs as an action on the room goroutine, so all members observe
events in the same order.
*/
package board

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"sketchsync/internal/app/participant"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/logx"
	"sketchsync/internal/pkg/randx"
)

const actionQueueSize = 256

// errRoomClosed is returned to callers whose action reached a room that was torn down.
var errRoomClosed = errors.New("room closed")

// Peer is the delivery side of one connection, as seen by a room.
type Peer interface {
	// Deliver queues an encoded event without blocking.
	// It returns false when the peer cannot accept it, which evicts the peer.
	Deliver(data []byte) bool

	// Kick closes the peer's transport with reason. It must not block.
	Kick(reason *errs.CustomError)
}

type member struct {
	participant.Participant
	peer     Peer
	joinedAt time.Time
}

type canvasSnapshot struct {
	data  string
	seq   uint64
	valid bool
}

// roomHooks lets the registry observe membership changes. They run on the room goroutine.
type roomHooks struct {
	memberJoined func(roomID, participantID string)
	memberLeft   func(roomID, participantID string)
	closed       func(*Room)
}

// Room struct represents a single, active whiteboard session.
type Room struct {
	// ID is the client-chosen room identifier.
	ID string

	// instance distinguishes successive rooms created under the same ID.
	instance string

	createdAt time.Time

	// bcrypt hash of the room password, nil for an unprotected room. Immutable.
	passwordHash []byte

	// members in join order.
	members []*member

	// lastSeq is the highest sequence number assigned so far. Never reused.
	lastSeq uint64

	// historyRevision counts applied undo/redo actions.
	historyRevision uint64

	history *History
	canvas  canvasSnapshot

	// base is a snapshot no undo or redo can reach. The log holds no operation it covers.
	base canvasSnapshot

	chat   []ChatMessage
	typing *typingTracker

	opts  Options
	hooks roomHooks

	// actions carries closures executed one at a time by the Run loop.
	actions chan func()

	// stopChan signals the Run loop to shut the room down.
	stopChan chan struct{}

	// done is closed when the Run loop has exited.
	done chan struct{}

	closed    atomic.Bool
	idleTimer *time.Timer

	logger zerolog.Logger
}

func newRoom(id string, passwordHash []byte, opts Options, hooks roomHooks) *Room {
	return &Room{
		ID:           id,
		instance:     randx.MessageID(),
		createdAt:    time.Now(),
		passwordHash: passwordHash,
		history:      NewHistory(opts.HistoryLimit),
		typing:       newTypingTracker(opts.TypingTimeout),
		opts:         opts,
		hooks:        hooks,
		actions:      make(chan func(), actionQueueSize),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logx.Logger().With().Str("room_id", id).Logger(),
	}
}

// Protected reports whether joining the room requires a password.
func (r *Room) Protected() bool {
	return r.passwordHash != nil
}

// Done is closed once the room has been torn down and its loop has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// checkPassword verifies a join attempt against the room password.
// It runs on the caller's goroutine: bcrypt is too slow for the room loop.
func (r *Room) checkPassword(hasPassword bool, password string) error {
	if r.passwordHash == nil {
		return nil
	}

	if !hasPassword || password == "" {
		return errs.NewError(errs.ErrPasswordRequired)
	}

	if err := bcrypt.CompareHashAndPassword(r.passwordHash, []byte(password)); err != nil {
		return errs.NewError(errs.ErrIncorrectPassword)
	}

	return nil
}

// Stop sends a signal to terminate the Room's Run loop, disconnecting every member.
func (r *Room) Stop() {
	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
}

// Run starts the main event loop for the Room.
func (r *Room) Run() {
	ticker := time.NewTicker(r.opts.TypingSweepInterval)

	defer func() {
		ticker.Stop()
		if r.idleTimer != nil {
			r.idleTimer.Stop()
		}
		close(r.done)
		r.logger.Debug().Msg("Room Run loop finished.")
	}()

	for {
		var idle <-chan time.Time
		if r.idleTimer != nil {
			idle = r.idleTimer.C
		}

		select {
		case action := <-r.actions:
			action()

		case now := <-ticker.C:
			r.sweepTyping(now)

		case <-idle:
			r.idleTimer = nil
			if len(r.members) == 0 {
				r.teardown("idle grace elapsed")
			}

		case <-r.stopChan:
			r.shutdown()
		}

		if r.closed.Load() {
			return
		}
	}
}

// do runs fn on the room goroutine and waits for it to finish.
// ctx only bounds the wait for a queue slot; once queued, the action always completes
// unless the room is torn down first.
func (r *Room) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	action := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.actions <- action:
	case <-r.done:
		return errRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return errRoomClosed
		}
	}
}

func (r *Room) indexOf(participantID string) int {
	return slices.IndexFunc(r.members, func(m *member) bool {
		return m.ID == participantID
	})
}

func (r *Room) member(participantID string) *member {
	if i := r.indexOf(participantID); i >= 0 {
		return r.members[i]
	}
	return nil
}

func (r *Room) memberList() []participant.Participant {
	list := make([]participant.Participant, len(r.members))
	for i, m := range r.members {
		list[i] = m.Participant
	}
	return list
}

// broadcast delivers msg to every member except excludeID.
// Members that cannot accept the event are evicted once the fanout is done.
func (r *Room) broadcast(msg Message, excludeID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("Error marshaling message for broadcast.")
		return
	}

	var lagging []*member
	for _, m := range r.members {
		if m.ID == excludeID {
			continue
		}
		if !m.peer.Deliver(data) {
			lagging = append(lagging, m)
		}
	}

	for _, m := range lagging {
		r.evict(m)
	}
}

// deliver sends msg to a single member, evicting it when its queue is full.
func (r *Room) deliver(m *member, msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("Error marshaling message for member.")
		return false
	}

	if m.peer.Deliver(data) {
		return true
	}

	r.evict(m)
	return false
}

// emit builds and broadcasts an event in one step.
func (r *Room) emit(t EventType, sender participant.Participant, seq uint64, payload any, excludeID string) {
	msg, err := NewMessage(t, r.ID, sender, payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to build broadcast message.")
		return
	}
	msg.Seq = seq
	r.broadcast(msg, excludeID)
}

func (r *Room) evict(m *member) {
	if i := r.indexOf(m.ID); i < 0 || r.members[i] != m {
		return
	}

	r.opts.Metrics.DroppedDeliveries.Inc()
	r.logger.Warn().Str("participant_id", m.ID).Msg("Member send queue full or closed, evicting.")

	m.peer.Kick(errs.NewError(errs.ErrDeliveryBacklog))
	r.removeMember(m)
}

// removeMember drops m from the room and notifies the remaining members.
func (r *Room) removeMember(m *member) {
	i := r.indexOf(m.ID)
	if i < 0 || r.members[i] != m {
		return
	}
	r.members = slices.Delete(r.members, i, i+1)

	r.opts.Metrics.ActiveParticipants.Dec()
	r.opts.Presence.MemberLeft(r.ID, m.ID)
	if r.hooks.memberLeft != nil {
		r.hooks.memberLeft(r.ID, m.ID)
	}

	r.logger.Info().
		Str("participant_id", m.ID).
		Int("total_members", len(r.members)).
		Msg("Participant left room.")

	if entry, ok := r.typing.stop(m.ID); ok {
		r.emit(EventUserStopTyping, participant.System, 0, TypingPayload{
			RoomID:        r.ID,
			ParticipantID: entry.participantID,
			Username:      entry.displayName,
		}, m.ID)
	}

	r.emit(EventUserLeft, participant.System, 0, PresencePayload{
		Participant: m.Participant,
		Members:     r.memberList(),
	}, m.ID)

	if len(r.members) == 0 {
		r.becameEmpty()
	}
}

func (r *Room) becameEmpty() {
	if r.closed.Load() {
		return
	}

	if r.opts.IdleGrace <= 0 {
		r.teardown("last participant left")
		return
	}

	if r.idleTimer == nil {
		r.idleTimer = time.NewTimer(r.opts.IdleGrace)
		r.logger.Debug().Dur("grace", r.opts.IdleGrace).Msg("Room is empty. Idle grace started.")
	}
}

func (r *Room) cancelIdle() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}

// teardown discards the room. The Run loop exits after the current action.
func (r *Room) teardown(reason string) {
	if r.closed.Swap(true) {
		return
	}

	r.opts.Metrics.ActiveRooms.Dec()
	r.opts.Metrics.RoomsTornDown.Inc()
	r.opts.Presence.RoomClosed(r.ID)
	if r.hooks.closed != nil {
		r.hooks.closed(r)
	}

	r.logger.Info().
		Str("reason", reason).
		Uint64("last_seq", r.lastSeq).
		Msg("Room torn down.")
}

// shutdown disconnects every member and tears the room down.
func (r *Room) shutdown() {
	r.logger.Info().Int("members", len(r.members)).Msg("Room forced stop initiated.")

	reason := errs.NewError(errs.ErrServerShuttingDown)
	for _, m := range r.members {
		m.peer.Kick(reason)
		r.opts.Metrics.ActiveParticipants.Dec()
		r.opts.Presence.MemberLeft(r.ID, m.ID)
		if r.hooks.memberLeft != nil {
			r.hooks.memberLeft(r.ID, m.ID)
		}
	}
	r.members = nil

	r.teardown("server shutdown")
}

// admission is a join request that already passed the password check.
type admission struct {
	participant participant.Participant
	peer        Peer
	isNewRoom   bool
	resumeToken string
}

// errPeerGone reports that the joining peer could not take its initial state.
var errPeerGone = errors.New("peer closed during admission")

// handleJoin admits a participant. The new member receives room-joined and then
// canvas-data before any other room event; the others are told afterwards.
func (r *Room) handleJoin(a admission) error {
	r.cancelIdle()

	m := &member{
		Participant: a.participant,
		peer:        a.peer,
		joinedAt:    time.Now(),
	}

	replaced := false
	if i := r.indexOf(m.ID); i >= 0 {
		old := r.members[i]
		r.logger.Warn().
			Str("participant_id", m.ID).
			Msg("Participant already connected. Closing old connection for replacement.")

		if old.peer != a.peer {
			old.peer.Kick(errs.NewError(errs.ErrSessionKicked))
		}
		r.members[i] = m
		replaced = true
	} else {
		r.members = append(r.members, m)
		r.opts.Metrics.ActiveParticipants.Inc()
	}

	if r.hooks.memberJoined != nil {
		r.hooks.memberJoined(r.ID, m.ID)
	}
	r.opts.Presence.MemberJoined(r.ID, m.Participant)

	r.logger.Info().
		Str("participant_id", m.ID).
		Bool("replaced", replaced).
		Int("total_members", len(r.members)).
		Msg("Participant joined room.")

	joined, err := NewMessage(EventRoomJoined, r.ID, participant.System, RoomJoinedPayload{
		RoomID:      r.ID,
		Participant: m.Participant,
		Members:     r.memberList(),
		Messages:    append([]ChatMessage{}, r.chat...),
		IsNewRoom:   a.isNewRoom,
		Protected:   r.Protected(),
		ResumeToken: a.resumeToken,
		LastSeq:     r.lastSeq,
	})
	if err != nil {
		r.removeMember(m)
		return err
	}

	canvas, err := NewMessage(EventCanvasData, r.ID, participant.System, r.canvasPayload())
	if err != nil {
		r.removeMember(m)
		return err
	}
	canvas.Seq = r.lastSeq

	if !r.deliver(m, joined) || !r.deliver(m, canvas) {
		return errPeerGone
	}

	presence := PresencePayload{Participant: m.Participant, Members: r.memberList()}
	if replaced {
		r.emit(EventPresenceUpdate, participant.System, 0, presence, m.ID)
	} else {
		r.emit(EventUserJoined, participant.System, 0, presence, m.ID)
	}

	return nil
}

// handleLeave removes participantID when it is still bound to peer (nil matches any).
func (r *Room) handleLeave(participantID string, peer Peer) bool {
	m := r.member(participantID)
	if m == nil {
		return false
	}

	if peer != nil && m.peer != peer {
		r.logger.Debug().
			Str("participant_id", participantID).
			Msg("Ignoring leave for stale connection.")
		return false
	}

	r.removeMember(m)
	return true
}

// handleOperation assigns the next sequence number to a draw operation and fans it out.
func (r *Room) handleOperation(participantID string, ev OperationEvent) (DrawOperation, error) {
	m := r.member(participantID)
	if m == nil {
		return DrawOperation{}, errs.NewError(errs.ErrNotJoined)
	}

	r.lastSeq++
	op := DrawOperation{
		Seq:       r.lastSeq,
		Kind:      ev.Kind,
		Event:     ev.Event,
		AuthorID:  m.ID,
		Data:      ev.Data,
		Timestamp: time.Now().UnixMilli(),
	}

	if dropped := r.history.RecordApplied(op); len(dropped) > 0 {
		r.logger.Debug().Int("dropped", len(dropped)).Msg("New operation cleared the redo stack.")
	}
	r.settle()
	r.opts.Metrics.Operations.WithLabelValues(string(op.Kind)).Inc()

	r.emit(op.Event, m.Participant, op.Seq, op, m.ID)

	ack, err := NewMessage(EventDrawAck, r.ID, participant.System, DrawAckPayload{TempID: ev.TempID, Seq: op.Seq})
	if err == nil {
		ack.Seq = op.Seq
		r.deliver(m, ack)
	}

	return op, nil
}

// handleHistory applies an undo or redo and broadcasts the result to every member.
func (r *Room) handleHistory(participantID string, action EventType) (HistoryPayload, bool, error) {
	m := r.member(participantID)
	if m == nil {
		return HistoryPayload{}, false, errs.NewError(errs.ErrNotJoined)
	}

	var (
		op      DrawOperation
		applied bool
	)
	if action == EventUndo {
		op, applied = r.history.Undo()
	} else {
		op, applied = r.history.Redo()
	}

	if !applied {
		r.opts.Metrics.HistoryActions.WithLabelValues(string(action), "noop").Inc()
		return HistoryPayload{}, false, nil
	}
	r.opts.Metrics.HistoryActions.WithLabelValues(string(action), "applied").Inc()

	r.historyRevision++
	if r.canvas.valid && op.Seq <= r.canvas.seq {
		r.logger.Debug().
			Uint64("snapshot_seq", r.canvas.seq).
			Uint64("op_seq", op.Seq).
			Msg("History change reached into the canvas snapshot. Falling back to the settled snapshot.")
		r.canvas = r.base
	}

	canvas := r.canvasPayload()
	payload := HistoryPayload{
		Operation:       op,
		SnapshotSeq:     canvas.SnapshotSeq,
		Operations:      canvas.Operations,
		LastSeq:         r.lastSeq,
		HistoryRevision: r.historyRevision,
	}

	r.emit(action, m.Participant, op.Seq, payload, "")
	return payload, true, nil
}

// canvasPayload returns the stored blob plus every active operation after it.
func (r *Room) canvasPayload() CanvasPayload {
	payload := CanvasPayload{
		LastSeq:         r.lastSeq,
		HistoryRevision: r.historyRevision,
	}

	if r.canvas.valid {
		payload.CanvasData = r.canvas.data
		payload.SnapshotSeq = r.canvas.seq
	}
	payload.Operations = r.history.After(payload.SnapshotSeq)

	return payload
}

// handlePublishCanvas stores a client-rendered blob covering operations up to seq.
func (r *Room) handlePublishCanvas(participantID string, in CanvasUpload) error {
	if r.member(participantID) == nil {
		return errs.NewError(errs.ErrNotJoined)
	}

	if in.Seq > r.lastSeq || in.HistoryRevision != r.historyRevision || (r.canvas.valid && in.Seq < r.canvas.seq) {
		r.logger.Debug().
			Uint64("seq", in.Seq).
			Uint64("last_seq", r.lastSeq).
			Uint64("revision", in.HistoryRevision).
			Msg("Rejected stale canvas snapshot.")
		return errs.NewError(errs.ErrSnapshotStale)
	}

	r.canvas = canvasSnapshot{data: in.CanvasData, seq: in.Seq, valid: true}
	r.settle()
	return nil
}

// settle promotes the snapshot to base once no undo or redo can reach what it covers,
// and drops the operations it covers from the log.
func (r *Room) settle() {
	if !r.canvas.valid || r.canvas == r.base || !r.history.Settled(r.canvas.seq) {
		return
	}

	r.base = r.canvas
	if n := r.history.Compact(r.base.seq); n > 0 {
		r.logger.Debug().
			Int("dropped", n).
			Uint64("snapshot_seq", r.base.seq).
			Msg("Compacted operation log behind settled snapshot.")
	}
}

// handleResync delivers canvas-data to a single member.
func (r *Room) handleResync(participantID string) (CanvasPayload, error) {
	m := r.member(participantID)
	if m == nil {
		return CanvasPayload{}, errs.NewError(errs.ErrNotJoined)
	}

	payload := r.canvasPayload()
	msg, err := NewMessage(EventCanvasData, r.ID, participant.System, payload)
	if err != nil {
		return CanvasPayload{}, err
	}
	msg.Seq = r.lastSeq
	r.deliver(m, msg)

	return payload, nil
}

// handleChat appends a chat line to the bounded history and relays it to the other members.
func (r *Room) handleChat(participantID, text string) (ChatMessage, error) {
	m := r.member(participantID)
	if m == nil {
		return ChatMessage{}, errs.NewError(errs.ErrNotJoined)
	}

	r.stopTyping(m)

	chat := ChatMessage{
		ID:          randx.MessageID(),
		RoomID:      r.ID,
		AuthorID:    m.ID,
		DisplayName: m.DisplayName,
		Text:        text,
		Timestamp:   time.Now().UnixMilli(),
	}

	r.chat = append(r.chat, chat)
	if over := len(r.chat) - r.opts.ChatHistoryLimit; over > 0 {
		r.chat = slices.Clone(r.chat[over:])
	}
	r.opts.Metrics.ChatMessages.Inc()

	r.emit(EventReceiveMessage, m.Participant, 0, chat, m.ID)
	return chat, nil
}

// handleTyping records a typing or stop-typing signal.
// Only transitions are broadcast.
func (r *Room) handleTyping(participantID string, typing bool, now time.Time) error {
	m := r.member(participantID)
	if m == nil {
		return errs.NewError(errs.ErrNotJoined)
	}

	if !typing {
		r.stopTyping(m)
		return nil
	}

	if r.typing.start(m.ID, m.DisplayName, now) {
		r.emit(EventUserTyping, m.Participant, 0, TypingPayload{
			RoomID:        r.ID,
			ParticipantID: m.ID,
			Username:      m.DisplayName,
		}, m.ID)
	}
	return nil
}

func (r *Room) stopTyping(m *member) {
	if _, ok := r.typing.stop(m.ID); ok {
		r.emit(EventUserStopTyping, m.Participant, 0, TypingPayload{
			RoomID:        r.ID,
			ParticipantID: m.ID,
			Username:      m.DisplayName,
		}, m.ID)
	}
}

// sweepTyping expires typing entries whose timeout elapsed without a refresh.
func (r *Room) sweepTyping(now time.Time) {
	for _, entry := range r.typing.expire(now) {
		sender := participant.Participant{ID: entry.participantID, DisplayName: entry.displayName}
		r.emit(EventUserStopTyping, sender, 0, TypingPayload{
			RoomID:        r.ID,
			ParticipantID: entry.participantID,
			Username:      entry.displayName,
		}, entry.participantID)
	}
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	ID        string                    `json:"roomId"`
	Protected bool                      `json:"protected"`
	Members   []participant.Participant `json:"members"`
	LastSeq   uint64                    `json:"lastSeq"`
	CreatedAt time.Time                 `json:"createdAt"`
}

func (r *Room) info() RoomInfo {
	return RoomInfo{
		ID:        r.ID,
		Protected: r.Protected(),
		Members:   r.memberList(),
		LastSeq:   r.lastSeq,
		CreatedAt: r.createdAt,
	}
}
