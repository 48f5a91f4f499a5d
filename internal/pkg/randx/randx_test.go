package randx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomCode(t *testing.T) {
	seen := make(map[string]struct{})
	for range 50 {
		code, err := RoomCode()
		require.NoError(t, err)
		require.Len(t, code, RoomCodeLength)
		for _, c := range code {
			require.True(t, strings.ContainsRune(Base62Chars, c))
		}
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 45)
}

func TestParticipantID(t *testing.T) {
	id := ParticipantID()
	assert.True(t, IsValidParticipantID(id))
	assert.False(t, IsValidParticipantID("guest_abc"))
	assert.NotEqual(t, id, ParticipantID())
}
