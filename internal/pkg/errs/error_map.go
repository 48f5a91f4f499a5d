/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, websocket error events and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrUnsupportedEvent:     {Code: ErrUnsupportedEvent, Message: "Unsupported event type: %s."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room and Content Business Logic Errors
	ErrRoomNotFound:          {Code: ErrRoomNotFound, Message: "Room not found.", Status: http.StatusNotFound},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrPayloadTooLarge:       {Code: ErrPayloadTooLarge, Message: "Payload is too large."},
	ErrSnapshotStale:         {Code: ErrSnapshotStale, Message: "Canvas snapshot is out of date."},
	ErrAlreadyJoined:         {Code: ErrAlreadyJoined, Message: "You are already in a room."},
	ErrNotJoined:             {Code: ErrNotJoined, Message: "Join a room first."},

	// 3xxx: Room Admission Errors
	ErrPasswordRequired:  {Code: ErrPasswordRequired, Message: "Password required"},
	ErrIncorrectPassword: {Code: ErrIncorrectPassword, Message: "Incorrect password"},
	ErrSessionKicked:     {Code: ErrSessionKicked, Message: "You joined this room from another tab."},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrServerShuttingDown: {Code: ErrServerShuttingDown, Message: "Server is restarting. Please reconnect.", Status: http.StatusServiceUnavailable},
	ErrDeliveryBacklog:    {Code: ErrDeliveryBacklog, Message: "Connection could not keep up. Please reconnect.", Status: http.StatusServiceUnavailable},
	ErrServiceUnavailable: {Code: ErrServiceUnavailable, Message: "Service temporarily unavailable.", Status: http.StatusServiceUnavailable},
}
