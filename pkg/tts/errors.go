package tts

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrSpeech is matched by every failed speech request.
	ErrSpeech = errors.New("tts: speech request failed")

	ErrNoAPIKey          = errors.New("tts: API key required")
	ErrEmptyText         = errors.New("tts: text is required")
	ErrUnsupportedFormat = errors.New("tts: unsupported format")
)

// APIError is a non-2xx answer from the speech endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tts: speech API returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("tts: speech API returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the same request may succeed later: rate
// limiting and server-side failures.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unauthorized reports a rejected API key.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// newAPIError decodes an OpenAI error body, falling back to the raw text.
func newAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return &APIError{
			StatusCode: status,
			Type:       envelope.Error.Type,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// SpeechError records where a speech request failed.
type SpeechError struct {
	// Source is "openai", "relay" or "mock".
	Source string
	Op     string
	Err    error
}

func (e *SpeechError) Error() string {
	return fmt.Sprintf("tts: %s %s: %v", e.Source, e.Op, e.Err)
}

func (e *SpeechError) Unwrap() error {
	return e.Err
}

// Is reports ErrSpeech as a match.
func (e *SpeechError) Is(target error) bool {
	return target == ErrSpeech
}

func speechErr(source, op string, err error) error {
	if err == nil {
		return nil
	}
	return &SpeechError{Source: source, Op: op, Err: err}
}
