// Package protocol defines the realtime envelopes exchanged between the
// voice client, the relay and the upstream realtime service.
//
// Envelopes are JSON text frames with a "type" field. The relay forwards
// them as opaque bytes; only the client decodes their bodies.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType identifies an envelope.
type EventType string

const (
	// Upstream → client
	TypeSessionCreated              EventType = "session.created"
	TypeAudioDelta                  EventType = "response.audio.delta"
	TypeAudioDone                   EventType = "response.audio.done"
	TypeTranscriptDelta             EventType = "response.audio_transcript.delta"
	TypeTranscriptDone              EventType = "response.audio_transcript.done"
	TypeInputTranscriptionCompleted EventType = "conversation.item.input_audio_transcription.completed"
	TypeError                       EventType = "error"

	// Client → upstream
	TypeInputAudioAppend EventType = "input_audio_buffer.append"
	TypeSessionUpdate    EventType = "session.update"
)

// ConnectionErrorMessage is sent to the client when the upstream socket fails.
const ConnectionErrorMessage = "OpenAI connection error"

// Envelope is the minimal view of any message: its type.
type Envelope struct {
	Type EventType `json:"type"`
}

// PeekType decodes only the type field of a message.
func PeekType(data []byte) (EventType, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("protocol: parse envelope: %w", err)
	}
	return env.Type, nil
}

// Event is an inbound envelope decoded with the fields the client reads.
type Event struct {
	Type       EventType       `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Error      json.RawMessage `json:"error,omitempty"`
}

// ParseEvent decodes an inbound envelope.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("protocol: parse event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("protocol: event has no type")
	}
	return &ev, nil
}

// ErrorDetail is the body of an error envelope.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorDetail decodes the error field. Upstream errors carry an object; the
// relay's own connection error carries a bare string.
func (e *Event) ErrorDetail() ErrorDetail {
	if len(e.Error) == 0 {
		return ErrorDetail{}
	}

	var msg string
	if err := json.Unmarshal(e.Error, &msg); err == nil {
		return ErrorDetail{Message: msg}
	}

	var d ErrorDetail
	if err := json.Unmarshal(e.Error, &d); err == nil {
		return d
	}
	return ErrorDetail{Message: string(e.Error)}
}

// AudioAppend streams one encoded input frame upstream.
type AudioAppend struct {
	Type  EventType `json:"type"`
	Audio string    `json:"audio"`
}

// NewAudioAppend builds an input_audio_buffer.append envelope.
func NewAudioAppend(encoded string) ([]byte, error) {
	return json.Marshal(AudioAppend{Type: TypeInputAudioAppend, Audio: encoded})
}

// connectionError is the relay's error envelope; error is a plain string.
type connectionError struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

// NewConnectionError builds the envelope sent to a client whose upstream failed.
func NewConnectionError() []byte {
	data, _ := json.Marshal(connectionError{Type: TypeError, Error: ConnectionErrorMessage})
	return data
}
