/*
Package randx provides functions for generating unique identifiers used across the system.

User, room, message and file transfer identifiers are all UUID v4 strings, mirroring
the identifiers handed out by the rendezvous server to browsers.
*/
package randx

import (
	"regexp"

	"github.com/google/uuid"
)

// pinPattern is the accepted PIN shape: 4 to 8 decimal digits.
var pinPattern = regexp.MustCompile(`^[0-9]{4,8}$`)

// NewID generates a UUID v4 string used for user, room, message and file identifiers.
func NewID() string {
	return uuid.New().String()
}

// IsValidID reports whether the given string parses as a UUID.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// IsValidPin reports whether the given string is an acceptable room PIN.
func IsValidPin(pin string) bool {
	return pinPattern.MatchString(pin)
}
