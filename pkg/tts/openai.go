package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-voice/internal/httpc"
)

const (
	openAISpeechURL = "https://api.openai.com/v1/audio/speech"
	openAIModelsURL = "https://api.openai.com/v1/models"

	// maxErrorBody caps how much of a failed response is read.
	maxErrorBody = 64 << 10
)

// Voices accepted by the speech endpoint.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// Speech models.
const (
	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI synthesizes speech with the OpenAI audio/speech endpoint.
type OpenAI struct {
	apiKey   string
	endpoint string
	voice    string
	model    string
	format   Encoding

	timeout    time.Duration
	maxRetries int
	backoff    time.Duration

	client *http.Client
	logger *slog.Logger
}

// NewOpenAI creates a provider. WithAPIKey is required.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	o := &OpenAI{
		endpoint:   openAISpeechURL,
		voice:      VoiceAlloy,
		model:      ModelTTS1,
		format:     EncodingMP3,
		timeout:    DefaultTimeout,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if o.client == nil {
		o.client = httpc.NewClient(o.timeout)
	}
	o.logger = o.logger.With("component", "tts.openai")
	return o, nil
}

type speechPayload struct {
	Model          string   `json:"model"`
	Voice          string   `json:"voice"`
	Input          string   `json:"input"`
	ResponseFormat Encoding `json:"response_format"`
}

// Synthesize implements Provider.
func (o *OpenAI) Synthesize(ctx context.Context, text string, opts ...SpeechOption) (*AudioResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	r := speechRequest{voice: o.voice, format: o.format}
	for _, opt := range opts {
		opt(&r)
	}

	body, err := json.Marshal(speechPayload{
		Model:          o.model,
		Voice:          r.voice,
		Input:          text,
		ResponseFormat: r.format,
	})
	if err != nil {
		return nil, speechErr("openai", "encode request", err)
	}

	start := time.Now()
	audio, err := o.post(ctx, body)
	if err != nil {
		return nil, err
	}
	latency := time.Since(start)

	o.logger.Debug("speech synthesized",
		"chars", len(text),
		"bytes", len(audio),
		"voice", r.voice,
		"format", r.format,
		"latency", latency,
	)

	result := &AudioResult{
		Audio:     audio,
		Format:    FormatOf(r.format),
		CharCount: len(text),
		LatencyMs: latency.Milliseconds(),
	}
	if r.format == EncodingPCM {
		result.Duration = pcmDuration(len(audio), PCMSampleRate)
	}
	return result, nil
}

// post sends body to the speech endpoint, retrying transport failures and
// temporary API errors.
func (o *OpenAI) post(ctx context.Context, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < o.maxRetries+1; attempt++ {
		if attempt > 0 {
			o.logger.Warn("retrying speech request", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, speechErr("openai", "synthesize", ctx.Err())
			case <-time.After(o.backoff * time.Duration(attempt)):
			}
		}

		audio, err := o.attempt(ctx, body)
		if err == nil {
			return audio, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, speechErr("openai", "synthesize", lastErr)
}

func (o *OpenAI) attempt(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, newAPIError(resp.StatusCode, msg)
	}
	return io.ReadAll(resp.Body)
}

// Health implements Provider by listing models with the configured key.
func (o *OpenAI) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAIModelsURL, nil)
	if err != nil {
		return speechErr("openai", "health", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return speechErr("openai", "health", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return speechErr("openai", "health", newAPIError(resp.StatusCode, msg))
	}
	return nil
}

// Close implements Provider.
func (o *OpenAI) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

var _ Provider = (*OpenAI)(nil)
