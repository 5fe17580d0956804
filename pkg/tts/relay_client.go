package tts

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/teslashibe/go-voice/internal/httpc"
)

// SpeechRequest is the body of the relay's /text-to-speech route.
type SpeechRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// SpeechResponse is the route's success body.
type SpeechResponse struct {
	AudioContent string `json:"audioContent"`
}

// RelayClient requests speech from the relay instead of the upstream API.
type RelayClient struct {
	url    string
	client *http.Client
}

// NewRelayClient creates a client for the relay's /text-to-speech URL.
// A nil client uses the shared httpc.Client.
func NewRelayClient(url string, client *http.Client) *RelayClient {
	if client == nil {
		client = httpc.Client
	}
	return &RelayClient{url: url, client: client}
}

// Speak synthesizes text and returns the decoded audio bytes.
func (c *RelayClient) Speak(ctx context.Context, text, voice string, format Encoding) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	var out SpeechResponse
	in := SpeechRequest{Text: text, Voice: voice, Format: string(format)}
	if err := httpc.PostJSON(ctx, c.client, c.url, in, &out); err != nil {
		return nil, speechErr("relay", "speak", err)
	}

	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, speechErr("relay", "decode audioContent", err)
	}
	return audio, nil
}
