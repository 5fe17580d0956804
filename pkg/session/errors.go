package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection indicates the relay connection failed to open or dropped.
	ErrConnection = errors.New("session: connection error")

	// ErrUpstream indicates the realtime service reported an error envelope.
	ErrUpstream = errors.New("session: upstream error")

	// ErrNotIdle is returned by Start on a session that was already started.
	ErrNotIdle = errors.New("session: already started")

	// ErrEnded is returned by Start when End ran before startup finished.
	ErrEnded = errors.New("session: ended during startup")

	// ErrTransportClosed is returned by Send after Close.
	ErrTransportClosed = errors.New("session: transport closed")
)

// ConnectionError describes a relay connection failure.
type ConnectionError struct {
	Op    string
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is reports ErrConnection as a match.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// UpstreamError is a structured error event received from the realtime
// service, or the relay's connection error envelope.
type UpstreamError struct {
	Type    string
	Code    string
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session: upstream error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("session: upstream error: %s", e.Message)
}

// Is reports ErrUpstream as a match.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
