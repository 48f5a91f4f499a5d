package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the claims of a room resume token.
// A resume token proves that its holder was admitted to RoomID as ParticipantID,
// so a reconnecting client can rejoin without resupplying the room password.
type Payload struct {
	// StandardClaims carries expiry, issue time and issuer.
	jwt.StandardClaims `json:"standard_claims"`

	// ParticipantID is the server-assigned participant identifier.
	ParticipantID string `json:"pid"`

	// RoomID is the room the holder was admitted to.
	RoomID string `json:"rid"`

	// RoomInstance identifies the incarnation of RoomID. A room that was torn down and
	// recreated under the same ID gets a new instance, which invalidates older tokens.
	RoomInstance string `json:"inst"`

	// DisplayName is the name chosen by the client at admission.
	DisplayName string `json:"name"`
}
