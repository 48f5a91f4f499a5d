/*
Package participant contains the identity of a room participant.

Display names are chosen by clients and are not unique; the server-assigned ID is
the only stable handle for a participant inside a room.
*/
package participant

// Participant represents the identity of a room member as seen by other members.
// Fields use JSON tags for serialization in websocket events.
type Participant struct {
	// ID is the server-assigned identifier of the participant.
	ID string `json:"id"`

	// DisplayName is the client-chosen name shown to other members.
	DisplayName string `json:"displayName"`
}

// System is the sender of server-generated events (presence, acknowledgements, errors).
var System = Participant{ID: "system", DisplayName: "System"}
