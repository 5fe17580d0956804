// Package codec converts PCM16 audio to and from the base64 text carried
// inside realtime JSON envelopes.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// SampleWidth is the size in bytes of one PCM16 sample.
const SampleWidth = 2

var (
	// ErrMalformedFrame indicates a captured frame that cannot be encoded or
	// an encoded frame that does not decode to whole samples.
	ErrMalformedFrame = errors.New("codec: malformed frame")

	// ErrMalformedChunk indicates received audio that cannot be played.
	ErrMalformedChunk = errors.New("codec: malformed chunk")
)

// EncodeFrame encodes a PCM16 frame as standard base64.
// An empty frame encodes to the empty string.
func EncodeFrame(pcm []byte) (string, error) {
	if len(pcm)%SampleWidth != 0 {
		return "", fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrMalformedFrame, len(pcm))
	}
	return base64.StdEncoding.EncodeToString(pcm), nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(s string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(pcm)%SampleWidth != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrMalformedFrame, len(pcm))
	}
	return pcm, nil
}

// DecodeChunk decodes received audio for playback. Unlike DecodeFrame it
// also rejects empty payloads, which have nothing to schedule.
func DecodeChunk(s string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChunk, err)
	}
	if err := ValidateChunk(pcm); err != nil {
		return nil, err
	}
	return pcm, nil
}

// ValidateChunk checks that pcm is non-empty and holds whole samples.
func ValidateChunk(pcm []byte) error {
	if len(pcm) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedChunk)
	}
	if len(pcm)%SampleWidth != 0 {
		return fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrMalformedChunk, len(pcm))
	}
	return nil
}
