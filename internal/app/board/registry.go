/*
Package board contains the room synchronization engine of the whiteboard server.

This file defines the Registry, which creates rooms on first join, tracks which room each
participant belongs to, and discards a room as soon as its last participant leaves.
*/
package board

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"sketchsync/internal/app/participant"
	"sketchsync/internal/pkg/auth/jwt"
	"sketchsync/internal/pkg/errs"
	"sketchsync/internal/pkg/logx"
	"sketchsync/internal/pkg/randx"
)

// maxJoinAttempts bounds retries when a join races with the teardown of the room it found.
const maxJoinAttempts = 3

// JoinRequest describes an admission attempt.
type JoinRequest struct {
	RoomID      string
	DisplayName string
	HasPassword bool
	Password    string
	ResumeToken string
	Peer        Peer
}

// JoinResult is returned on successful admission.
type JoinResult struct {
	RoomID      string
	Participant participant.Participant
	IsNewRoom   bool
	ResumeToken string
}

// Registry owns every live room, keyed by room ID.
type Registry struct {
	opts Options

	// rooms stores every live Room instance, keyed by room ID.
	rooms map[string]*Room

	// memberships maps a participant ID to the room it belongs to.
	memberships map[string]string

	// closing rejects new rooms once Shutdown started.
	closing bool

	// mu protects rooms, memberships and closing. Never held while waiting on a room.
	mu sync.RWMutex

	// wg tracks running room loops.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewRegistry constructs and returns a new Registry instance.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		opts:        opts.withDefaults(),
		rooms:       make(map[string]*Room),
		memberships: make(map[string]string),
		logger:      logx.Component("Registry"),
	}
}

// Options returns the effective engine options.
func (g *Registry) Options() Options {
	return g.opts
}

// CreateOrJoin admits the requester to roomID, creating the room when it does not exist.
// The creator's password, if any, protects the room for its whole lifetime.
func (g *Registry) CreateOrJoin(ctx context.Context, req JoinRequest) (JoinResult, error) {
	for range maxJoinAttempts {
		room, created, err := g.roomFor(req)
		if err != nil {
			return JoinResult{}, err
		}

		p, resumed := g.resume(req, room)

		if !created && !resumed {
			if err := room.checkPassword(req.HasPassword, req.Password); err != nil {
				g.recordJoinFailure(err)
				g.logger.Info().
					Str("room_id", room.ID).
					Int("code", errs.From(err).Code).
					Msg("Join refused.")
				return JoinResult{}, err
			}
		}

		token := g.issueToken(room, p)

		var admitErr error
		err = room.do(ctx, func() {
			if err := ctx.Err(); err != nil {
				admitErr = err
				return
			}
			admitErr = room.handleJoin(admission{
				participant: p,
				peer:        req.Peer,
				isNewRoom:   created,
				resumeToken: token,
			})
		})

		if errors.Is(err, errRoomClosed) {
			g.logger.Debug().Str("room_id", req.RoomID).Msg("Join raced with room teardown. Retrying.")
			continue
		}
		if err == nil {
			err = admitErr
		}
		if err != nil {
			if created {
				g.discardIfEmpty(room)
			}
			return JoinResult{}, err
		}

		return JoinResult{
			RoomID:      room.ID,
			Participant: p,
			IsNewRoom:   created,
			ResumeToken: token,
		}, nil
	}

	return JoinResult{}, errs.NewError(errs.ErrUnknown, errors.New("join kept racing with room teardown"))
}

// roomFor returns the live room for req.RoomID or creates it with the requester's password.
func (g *Registry) roomFor(req JoinRequest) (*Room, bool, error) {
	if room := g.liveRoom(req.RoomID); room != nil {
		return room, false, nil
	}

	var hash []byte
	if req.HasPassword && req.Password != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, errs.NewError(errs.ErrUnknown, err)
		}
		hash = h
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closing {
		return nil, false, errs.NewError(errs.ErrServerShuttingDown)
	}

	if room, ok := g.rooms[req.RoomID]; ok && !room.closed.Load() {
		return room, false, nil
	}

	room := newRoom(req.RoomID, hash, g.opts, roomHooks{
		memberJoined: g.bindMember,
		memberLeft:   g.unbindMember,
		closed:       g.deleteRoom,
	})
	g.rooms[req.RoomID] = room
	g.opts.Metrics.ActiveRooms.Inc()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		room.Run()
	}()

	g.logger.Info().
		Str("room_id", req.RoomID).
		Bool("protected", hash != nil).
		Msg("New Room created and started.")

	return room, true, nil
}

// resume returns the identity for the join: the one carried by a valid resume token, or a fresh one.
func (g *Registry) resume(req JoinRequest, room *Room) (participant.Participant, bool) {
	p := participant.Participant{DisplayName: req.DisplayName}

	if req.ResumeToken != "" && g.opts.ResumeTokenSecret != "" {
		claims, err := jwt.ParseResumeToken(req.ResumeToken, g.opts.ResumeTokenSecret, room.ID, room.instance)
		if err == nil && randx.IsValidParticipantID(claims.ParticipantID) {
			p.ID = claims.ParticipantID
			return p, true
		}
		g.logger.Debug().Err(err).Str("room_id", room.ID).Msg("Ignoring unusable resume token.")
	}

	p.ID = randx.ParticipantID()
	return p, false
}

func (g *Registry) issueToken(room *Room, p participant.Participant) string {
	if g.opts.ResumeTokenSecret == "" {
		return ""
	}

	token, err := jwt.GenerateToken(&jwt.Payload{
		ParticipantID: p.ID,
		RoomID:        room.ID,
		RoomInstance:  room.instance,
		DisplayName:   p.DisplayName,
	}, g.opts.ResumeTokenSecret, jwt.ResumeTokenExpiration)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to sign resume token.")
		return ""
	}
	return token
}

// discardIfEmpty tears down a room whose creator was never admitted, unless
// another participant joined it in the meantime.
func (g *Registry) discardIfEmpty(room *Room) {
	err := room.do(context.Background(), func() {
		if len(room.members) == 0 {
			room.teardown("creator was not admitted")
		}
	})
	if err != nil && !errors.Is(err, errRoomClosed) {
		g.logger.Warn().Err(err).Str("room_id", room.ID).Msg("Failed to discard unused room.")
	}
}

func (g *Registry) recordJoinFailure(err error) {
	reason := "unknown"
	switch errs.From(err).Code {
	case errs.ErrPasswordRequired:
		reason = "password_required"
	case errs.ErrIncorrectPassword:
		reason = "incorrect_password"
	}
	g.opts.Metrics.JoinFailures.WithLabelValues(reason).Inc()
}

// Leave removes a participant from its room. It is idempotent.
func (g *Registry) Leave(ctx context.Context, participantID string) error {
	return g.Detach(ctx, participantID, nil)
}

// Detach removes participantID only while it is still served by peer, so a replaced
// connection cannot remove its successor. A nil peer matches any connection.
func (g *Registry) Detach(ctx context.Context, participantID string, peer Peer) error {
	g.mu.RLock()
	roomID, ok := g.memberships[participantID]
	room := g.rooms[roomID]
	g.mu.RUnlock()

	if !ok || room == nil {
		return nil
	}

	err := room.do(ctx, func() {
		room.handleLeave(participantID, peer)
	})
	if errors.Is(err, errRoomClosed) {
		return nil
	}
	return err
}

// ListMembers returns the members of roomID in join order.
func (g *Registry) ListMembers(ctx context.Context, roomID string) ([]participant.Participant, error) {
	var members []participant.Participant
	err := g.withRoom(ctx, roomID, func(room *Room) error {
		members = room.memberList()
		return nil
	})
	return members, err
}

// Lookup returns a read-only view of roomID.
func (g *Registry) Lookup(ctx context.Context, roomID string) (RoomInfo, error) {
	var info RoomInfo
	err := g.withRoom(ctx, roomID, func(room *Room) error {
		info = room.info()
		return nil
	})
	return info, err
}

// RoomOf returns the room a participant currently belongs to.
func (g *Registry) RoomOf(participantID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roomID, ok := g.memberships[participantID]
	return roomID, ok
}

// RoomIDs returns the IDs of every live room, sorted.
func (g *Registry) RoomIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// withRoom runs fn on the room goroutine of roomID. A missing or torn down room yields ErrRoomNotFound.
func (g *Registry) withRoom(ctx context.Context, roomID string, fn func(*Room) error) error {
	room := g.liveRoom(roomID)
	if room == nil {
		return errs.NewError(errs.ErrRoomNotFound)
	}

	var fnErr error
	err := room.do(ctx, func() {
		fnErr = fn(room)
	})
	if errors.Is(err, errRoomClosed) {
		return errs.NewError(errs.ErrRoomNotFound)
	}
	if err != nil {
		return err
	}
	return fnErr
}

func (g *Registry) liveRoom(roomID string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.rooms[roomID]
	if !ok || room.closed.Load() {
		return nil
	}
	return room
}

func (g *Registry) bindMember(roomID, participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.memberships[participantID] = roomID
}

func (g *Registry) unbindMember(roomID, participantID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.memberships[participantID] == roomID {
		delete(g.memberships, participantID)
	}
}

// deleteRoom removes room from the registry unless a newer room already took its ID.
func (g *Registry) deleteRoom(room *Room) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if current, ok := g.rooms[room.ID]; ok && current == room {
		delete(g.rooms, room.ID)
		g.logger.Info().Str("room_id", room.ID).Msg("Room successfully removed.")
	}
}

// Shutdown stops every room, disconnecting its members, and waits for the room loops to exit.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.logger.Info().Msg("Shutting down Registry...")

	g.mu.Lock()
	g.closing = true
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	for _, room := range rooms {
		room.Stop()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info().Int("rooms", len(rooms)).Msg("Registry shutdown complete.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
