package tts

import (
	"log/slog"
	"net/http"
	"time"
)

// OpenAI speech defaults.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultBackoff    = 200 * time.Millisecond
)

// Option configures an OpenAI provider.
type Option func(*OpenAI)

// WithAPIKey sets the bearer token. Required.
func WithAPIKey(key string) Option {
	return func(o *OpenAI) {
		o.apiKey = key
	}
}

// WithEndpoint replaces the speech endpoint URL.
func WithEndpoint(url string) Option {
	return func(o *OpenAI) {
		o.endpoint = url
	}
}

// WithVoice sets the voice used when a request does not pick one.
func WithVoice(voice string) Option {
	return func(o *OpenAI) {
		if voice != "" {
			o.voice = voice
		}
	}
}

// WithModel sets the speech model.
func WithModel(model string) Option {
	return func(o *OpenAI) {
		if model != "" {
			o.model = model
		}
	}
}

// WithFormat sets the encoding used when a request does not pick one.
func WithFormat(enc Encoding) Option {
	return func(o *OpenAI) {
		if enc != "" {
			o.format = enc
		}
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *OpenAI) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry sets how many times a 429 or 5xx answer is retried, waiting
// backoff times the attempt number in between.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(o *OpenAI) {
		o.maxRetries = maxRetries
		o.backoff = backoff
	}
}

// WithHTTPClient replaces the HTTP client. WithTimeout is then ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAI) {
		o.client = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *OpenAI) {
		o.logger = logger
	}
}
