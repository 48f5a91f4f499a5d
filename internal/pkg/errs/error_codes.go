/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request or event payload validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body or event frame is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrUnsupportedEvent indicates that a client sent an event type the server does not accept.
	ErrUnsupportedEvent = 1005

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Room and Content Business Logic Errors
const (
	// ErrRoomNotFound indicates that the room targeted by an operation does not exist (or was torn down).
	ErrRoomNotFound = 2103

	// ErrMessageContentTooLong indicates that the chat text exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrPayloadTooLarge indicates that a drawing payload or canvas blob exceeded its size limit.
	ErrPayloadTooLarge = 2202

	// ErrSnapshotStale indicates that a published canvas snapshot is older than the stored one
	// or claims a sequence number the room has not reached yet.
	ErrSnapshotStale = 2203

	// ErrAlreadyJoined indicates that the connection is already a member of a room.
	ErrAlreadyJoined = 2301

	// ErrNotJoined indicates that the connection sent a room event before joining a room.
	ErrNotJoined = 2302
)

// 3xxx: Room Admission Errors
const (
	// ErrPasswordRequired indicates that the room is protected and no password was supplied.
	ErrPasswordRequired = 3101

	// ErrIncorrectPassword indicates that the supplied password does not match the room password.
	ErrIncorrectPassword = 3102

	// ErrSessionKicked indicates that the current connection was replaced by a newer one.
	ErrSessionKicked = 3004
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrServerShuttingDown indicates that the room was stopped because the server is shutting down.
	ErrServerShuttingDown = 5001

	// ErrDeliveryBacklog indicates that the connection was dropped because it could not keep up with the room.
	ErrDeliveryBacklog = 5002

	// ErrServiceUnavailable indicates that a backing service (e.g. the presence store) is unreachable.
	ErrServiceUnavailable = 5003
)
