/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrInvalidJSONFormat indicates that an inbound frame was not valid JSON.
	ErrInvalidJSONFormat = 1002

	// ErrRateLimitExceeded indicates that the connection rate has exceeded the set limit.
	ErrRateLimitExceeded = 1003
)

// 2xxx: Room Registry Errors
const (
	// ErrRoomNotFound indicates that the referenced room does not exist.
	ErrRoomNotFound = 2101

	// ErrUnauthorized indicates a failed membership, leadership or PIN check.
	ErrUnauthorized = 2102

	// ErrValidation indicates a missing or malformed field (empty name, bad PIN format).
	ErrValidation = 2104
)

// 3xxx: User and Session Errors
const (
	// ErrNotJoined indicates an operation attempted before user:join completed.
	ErrNotJoined = 3002
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
