// Package tts synthesizes speech for short, one-shot texts.
//
// The OpenAI provider calls the speech endpoint directly and is used by the
// relay's /text-to-speech route. RelayClient calls that route from the voice
// client so the API key never leaves the relay.
//
// Example usage:
//
//	provider, _ := tts.NewOpenAI(
//	    tts.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    tts.WithVoice(tts.VoiceAlloy),
//	)
//	defer provider.Close()
//
//	result, _ := provider.Synthesize(ctx, "Hello world", tts.WithSpeechFormat(tts.EncodingPCM))
//	// result.Audio contains 24kHz mono PCM16
package tts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider defines the TTS provider interface.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	Synthesize(ctx context.Context, text string, opts ...SpeechOption) (*AudioResult, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the raw audio data in the specified format.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the playback duration, known only for PCM.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding is the container or codec.
	Encoding Encoding

	// SampleRate in Hz. Zero when the container carries it.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// BitDepth for PCM formats.
	BitDepth int
}

// Encoding is a speech endpoint response_format value.
type Encoding string

const (
	// Container formats
	EncodingMP3  Encoding = "mp3"
	EncodingOpus Encoding = "opus"
	EncodingAAC  Encoding = "aac"
	EncodingFLAC Encoding = "flac"
	EncodingWAV  Encoding = "wav"

	// EncodingPCM is raw 24kHz mono PCM16 little-endian, the same format
	// the realtime session plays.
	EncodingPCM Encoding = "pcm"
)

// PCMSampleRate is the sample rate of EncodingPCM output.
const PCMSampleRate = 24000

// ParseEncoding validates a response format name. Empty selects mp3.
func ParseEncoding(s string) (Encoding, error) {
	switch enc := Encoding(strings.ToLower(strings.TrimSpace(s))); enc {
	case "":
		return EncodingMP3, nil
	case EncodingMP3, EncodingOpus, EncodingAAC, EncodingFLAC, EncodingWAV, EncodingPCM:
		return enc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// FormatOf returns the metadata for an encoding.
func FormatOf(enc Encoding) AudioFormat {
	if enc == EncodingPCM {
		return AudioFormat{Encoding: enc, SampleRate: PCMSampleRate, Channels: 1, BitDepth: 16}
	}
	return AudioFormat{Encoding: enc, Channels: 1}
}

// pcmDuration returns the playback length of PCM16 mono audio at rate.
func pcmDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(rate)
}

// SpeechOption overrides provider defaults for one request.
type SpeechOption func(*speechRequest)

type speechRequest struct {
	voice  string
	format Encoding
}

// WithSpeechVoice selects the voice for one request.
func WithSpeechVoice(voice string) SpeechOption {
	return func(r *speechRequest) {
		if voice != "" {
			r.voice = voice
		}
	}
}

// WithSpeechFormat selects the output encoding for one request.
func WithSpeechFormat(enc Encoding) SpeechOption {
	return func(r *speechRequest) {
		if enc != "" {
			r.format = enc
		}
	}
}
