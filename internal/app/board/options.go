package board

import (
	"time"

	"sketchsync/internal/app/participant"
	"sketchsync/internal/configs"
	"sketchsync/internal/pkg/metrics"
)

const (
	defaultTypingTimeout       = time.Second
	defaultTypingSweepInterval = 250 * time.Millisecond
	defaultHistoryLimit        = 200
	defaultChatHistoryLimit    = 100
	defaultMaxChatLength       = 500
	defaultMaxSnapshotBytes    = 4 << 20
)

// PresenceSink receives membership changes as they happen inside a room.
// Implementations must not block: they are called from the room goroutine.
type PresenceSink interface {
	MemberJoined(roomID string, p participant.Participant)
	MemberLeft(roomID, participantID string)
	RoomClosed(roomID string)
}

type nopPresence struct{}

func (nopPresence) MemberJoined(string, participant.Participant) {}
func (nopPresence) MemberLeft(string, string)                    {}
func (nopPresence) RoomClosed(string)                            {}

// Options tune the engine. Zero values fall back to the defaults.
type Options struct {
	TypingTimeout       time.Duration
	TypingSweepInterval time.Duration
	// IdleGrace keeps an empty room alive for the given duration. Zero tears it down immediately.
	IdleGrace        time.Duration
	HistoryLimit     int
	ChatHistoryLimit int
	MaxChatLength    int
	MaxSnapshotBytes int

	// ResumeTokenSecret signs resume tokens. Empty disables them.
	ResumeTokenSecret string

	Metrics  *metrics.Metrics
	Presence PresenceSink
}

// OptionsFromConfig maps the application configuration onto engine options.
func OptionsFromConfig(cfg *configs.AppConfig) Options {
	return Options{
		TypingTimeout:       cfg.TypingTimeout,
		TypingSweepInterval: cfg.TypingSweepInterval,
		IdleGrace:           cfg.RoomIdleGrace,
		HistoryLimit:        cfg.HistoryLimit,
		ChatHistoryLimit:    cfg.ChatHistoryLimit,
		MaxChatLength:       cfg.MaxChatLength,
		MaxSnapshotBytes:    cfg.MaxSnapshotBytes,
		ResumeTokenSecret:   cfg.ResumeTokenSecret,
	}
}

func (o Options) withDefaults() Options {
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = defaultTypingTimeout
	}
	if o.TypingSweepInterval <= 0 {
		o.TypingSweepInterval = defaultTypingSweepInterval
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	if o.ChatHistoryLimit <= 0 {
		o.ChatHistoryLimit = defaultChatHistoryLimit
	}
	if o.MaxChatLength <= 0 {
		o.MaxChatLength = defaultMaxChatLength
	}
	if o.MaxSnapshotBytes <= 0 {
		o.MaxSnapshotBytes = defaultMaxSnapshotBytes
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New()
	}
	if o.Presence == nil {
		o.Presence = nopPresence{}
	}
	return o
}
