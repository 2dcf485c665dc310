package models

import "errors"

// Error taxonomy shared by all core components. Handlers map these to
// HTTP status codes; the socket layer maps them to error events on the
// caller's own connection.
var (
	// ErrUnauthorized: the caller's role is insufficient for the mutation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound: the referenced room, guest, request, or message does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation: malformed payload (missing room id, text too long,
	// invalid enum value).
	ErrValidation = errors.New("validation failed")
)
