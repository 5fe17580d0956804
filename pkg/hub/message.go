// Package hub fans out JSON events to connected websocket clients using a
// channel-based register/unregister/broadcast loop.
package hub

import "time"

// Event is one entry in the feed.
type Event struct {
	Kind      string         `json:"kind"`
	SessionID string         `json:"session_id,omitempty"`
	Time      time.Time      `json:"time"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// NewEvent creates an Event stamped with the current time.
func NewEvent(kind, sessionID string, fields map[string]any) Event {
	return Event{Kind: kind, SessionID: sessionID, Time: time.Now().UTC(), Fields: fields}
}
