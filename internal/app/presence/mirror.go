package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sketchsync/internal/app/participant"
	"sketchsync/internal/pkg/logx"
)

const (
	mirrorQueueSize = 1024
	writeTimeout    = 2 * time.Second
)

type updateKind int

const (
	memberJoined updateKind = iota
	memberLeft
	roomClosed
)

type update struct {
	kind        updateKind
	roomID      string
	participant participant.Participant
}

// Mirror forwards membership changes to a Directory from a single background worker.
// Enqueueing never blocks; updates are dropped when the queue is full.
type Mirror struct {
	dir     Directory
	updates chan update
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// NewMirror starts the worker writing to dir.
func NewMirror(dir Directory) *Mirror {
	m := &Mirror{
		dir:     dir,
		updates: make(chan update, mirrorQueueSize),
		quit:    make(chan struct{}),
		logger:  logx.Component("PresenceMirror"),
	}

	m.wg.Add(1)
	go m.run()

	return m
}

func (m *Mirror) MemberJoined(roomID string, p participant.Participant) {
	m.enqueue(update{kind: memberJoined, roomID: roomID, participant: p})
}

func (m *Mirror) MemberLeft(roomID, participantID string) {
	m.enqueue(update{kind: memberLeft, roomID: roomID, participant: participant.Participant{ID: participantID}})
}

func (m *Mirror) RoomClosed(roomID string) {
	m.enqueue(update{kind: roomClosed, roomID: roomID})
}

func (m *Mirror) enqueue(u update) {
	select {
	case <-m.quit:
		return
	default:
	}

	select {
	case m.updates <- u:
	default:
		m.logger.Warn().Str("room_id", u.roomID).Msg("Presence queue full, dropping update.")
	}
}

func (m *Mirror) run() {
	defer m.wg.Done()

	for {
		select {
		case u := <-m.updates:
			m.apply(u)
		case <-m.quit:
			for {
				select {
				case u := <-m.updates:
					m.apply(u)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) apply(u update) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch u.kind {
	case memberJoined:
		err = m.dir.Join(ctx, u.roomID, u.participant)
	case memberLeft:
		err = m.dir.Leave(ctx, u.roomID, u.participant.ID)
	case roomClosed:
		err = m.dir.Close(ctx, u.roomID)
	}

	if err != nil {
		m.logger.Warn().Err(err).Str("room_id", u.roomID).Msg("Failed to mirror presence update.")
	}
}

// Close stops accepting updates, flushes the queue and waits for the worker.
func (m *Mirror) Close() {
	m.once.Do(func() {
		close(m.quit)
	})
	m.wg.Wait()
}
