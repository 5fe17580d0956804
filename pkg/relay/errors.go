package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is matched by every ConnectionError.
	ErrConnection = errors.New("relay: connection error")

	// ErrReadyTimeout indicates the upstream never sent session.created.
	ErrReadyTimeout = errors.New("relay: timed out waiting for session.created")
)

// ConnectionError reports a failure on the upstream socket.
type ConnectionError struct {
	// Op is what the relay was doing, e.g. "dial upstream".
	Op string

	// StatusCode is the HTTP status of a failed handshake, if any.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay: %s (HTTP %d): %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("relay: %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrConnection.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}
