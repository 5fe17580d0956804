package tts

import (
	"context"
	"sync"
	"time"
)

// mockBytesPerChar is 20ms of 24kHz PCM16.
const mockBytesPerChar = 960

// Mock is an in-memory Provider for tests. Unless Err is set it answers
// every request with 20ms of silence per character.
type Mock struct {
	// Err, when set, is returned by Synthesize and Health.
	Err error

	// Delay is waited before answering. Cancelling ctx cuts it short.
	Delay time.Duration

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Synthesize request.
type MockCall struct {
	Text   string
	Voice  string
	Format Encoding
	At     time.Time
}

// NewMock creates a Mock that always succeeds.
func NewMock() *Mock {
	return &Mock{}
}

// WithError returns a Mock whose requests all fail with err.
func WithError(err error) *Mock {
	return &Mock{Err: err}
}

// WithLatency makes m wait d before answering.
func WithLatency(m *Mock, d time.Duration) *Mock {
	m.Delay = d
	return m
}

// Synthesize implements Provider.
func (m *Mock) Synthesize(ctx context.Context, text string, opts ...SpeechOption) (*AudioResult, error) {
	r := speechRequest{voice: VoiceAlloy, format: EncodingMP3}
	for _, opt := range opts {
		opt(&r)
	}

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Text: text, Voice: r.voice, Format: r.format, At: time.Now()})
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, speechErr("mock", "synthesize", ctx.Err())
		}
	}
	if m.Err != nil {
		return nil, speechErr("mock", "synthesize", m.Err)
	}

	audio := make([]byte, len(text)*mockBytesPerChar)
	return &AudioResult{
		Audio:     audio,
		Format:    FormatOf(r.format),
		Duration:  pcmDuration(len(audio), PCMSampleRate),
		CharCount: len(text),
	}, nil
}

// Health implements Provider.
func (m *Mock) Health(ctx context.Context) error {
	return m.Err
}

// Close implements Provider.
func (m *Mock) Close() error {
	return nil
}

// Calls returns the recorded Synthesize requests.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// Reset forgets recorded requests.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Provider = (*Mock)(nil)
