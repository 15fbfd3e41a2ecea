// ABOUTME: Error taxonomy for the chat domain
// ABOUTME: Transports map these sentinels to status codes and error frames

package conversation

import "errors"

var (
	// ErrInvalidOperation is returned for requests that can never succeed,
	// such as starting a conversation with yourself
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrNotFound is returned when a conversation or user does not exist
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller is not a participant
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput is returned for malformed request data, such as empty content
	ErrInvalidInput = errors.New("invalid input")
)
