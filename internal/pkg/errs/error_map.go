/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
error frames sent to sessions and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrInvalidJSONFormat: {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room Registry Errors
	ErrRoomNotFound: {Code: ErrRoomNotFound, Message: "Room not found."},
	ErrUnauthorized: {Code: ErrUnauthorized, Message: "Not authorized for this action.", Status: http.StatusUnauthorized},
	ErrValidation:   {Code: ErrValidation, Message: "Invalid %s."},

	// 3xxx: User and Session Errors
	ErrNotJoined: {Code: ErrNotJoined, Message: "Join the network first."},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
