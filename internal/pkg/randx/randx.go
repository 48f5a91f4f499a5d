/*
Package randx provides functions for generating cryptographically secure random identifiers.

It is used to generate fixed-length Base62 room codes handed out to clients that want a fresh
room, and UUIDs for participants and messages.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// RoomCodeLength is the fixed length of generated room codes.
	RoomCodeLength = 8
)

// RoomCode generates a Base62 encoded room code using crypto/rand.
func RoomCode() (string, error) {
	result := make([]byte, RoomCodeLength)

	for i := range RoomCodeLength {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for room code: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// ParticipantID generates the server-side identifier of a newly admitted participant.
func ParticipantID() string {
	return uuid.New().String()
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}

// IsValidParticipantID reports whether id looks like an identifier produced by ParticipantID.
func IsValidParticipantID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
