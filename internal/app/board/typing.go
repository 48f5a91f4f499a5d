package board

import (
	"sort"
	"time"
)

type typingEntry struct {
	participantID string
	displayName   string
	expires       time.Time
}

// typingTracker keeps the typing participants of one room with their expiry.
// A single sweep per room replaces per-keystroke timers.
type typingTracker struct {
	timeout time.Duration
	entries map[string]typingEntry
}

func newTypingTracker(timeout time.Duration) *typingTracker {
	return &typingTracker{
		timeout: timeout,
		entries: make(map[string]typingEntry),
	}
}

// start marks the participant as typing until now+timeout.
// It returns true only on the transition from idle to typing.
func (t *typingTracker) start(participantID, displayName string, now time.Time) bool {
	_, already := t.entries[participantID]
	t.entries[participantID] = typingEntry{
		participantID: participantID,
		displayName:   displayName,
		expires:       now.Add(t.timeout),
	}
	return !already
}

// stop clears the typing state and reports whether the participant was typing.
func (t *typingTracker) stop(participantID string) (typingEntry, bool) {
	entry, ok := t.entries[participantID]
	if ok {
		delete(t.entries, participantID)
	}
	return entry, ok
}

// expire removes and returns every entry whose expiry is not after now, ordered by expiry.
func (t *typingTracker) expire(now time.Time) []typingEntry {
	var expired []typingEntry
	for id, entry := range t.entries {
		if !entry.expires.After(now) {
			expired = append(expired, entry)
			delete(t.entries, id)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].expires.Before(expired[j].expires)
	})
	return expired
}

func (t *typingTracker) isTyping(participantID string) bool {
	_, ok := t.entries[participantID]
	return ok
}
