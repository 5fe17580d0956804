// Package audioio provides microphone capture and speaker playback for the
// voice client.
//
// Backends:
//   - alsa: arecord/aplay subprocesses (Linux)
//   - sox: rec/play subprocesses (macOS and anywhere SoX is installed)
//   - mock: synthetic audio for tests and CI without hardware
//
// All backends exchange 16-bit signed little-endian PCM.
package audioio

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// Backend names an audio implementation.
type Backend string

const (
	BackendAuto Backend = "auto"
	BackendALSA Backend = "alsa"
	BackendSox  Backend = "sox"
	BackendMock Backend = "mock"
)

// BytesPerSample is the width of one PCM16 sample.
const BytesPerSample = 2

// Config describes a device and the PCM format exchanged with it.
type Config struct {
	Backend    Backend `yaml:"backend" json:"backend"`
	SampleRate int     `yaml:"sample_rate" json:"sample_rate"`
	Channels   int     `yaml:"channels" json:"channels"`

	// FrameDuration is the length of one captured frame.
	FrameDuration time.Duration `yaml:"frame_duration" json:"frame_duration"`

	// Device is the backend-specific device name, e.g. "plughw:1,0" for
	// alsa. Empty selects the system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig is 24kHz mono in 20ms frames, the realtime session's
// pcm16 format.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    24000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Validate rejects formats no backend can open.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("audioio: sample_rate must be positive, got %d", c.SampleRate)
	case c.Channels <= 0:
		return fmt.Errorf("audioio: channels must be positive, got %d", c.Channels)
	case c.FrameDuration <= 0:
		return fmt.Errorf("audioio: frame_duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSamples is the number of samples per channel in one frame.
func (c Config) FrameSamples() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// FrameBytes is the size of one interleaved frame.
func (c Config) FrameBytes() int {
	return c.FrameSamples() * c.Channels * BytesPerSample
}

// DurationOf returns the playback length of n PCM16 bytes in this format.
func (c Config) DurationOf(n int) time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := n / (BytesPerSample * c.Channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Source is a capture device. Start either acquires the device or fails;
// device errors are never reported later.
type Source interface {
	Start(ctx context.Context) error
	// Stop releases the device and closes the Chunks channel. Repeated calls
	// are no-ops.
	Stop() error
	// Chunks delivers captured audio until Stop or until the device fails.
	Chunks() <-chan Chunk
	// Err reports why Chunks closed without a Stop, or nil.
	Err() error
	Config() Config
	Name() string
	// Close stops the source for good.
	Close() error
}

// Sink is a playback device fed with raw PCM in its Config format.
type Sink interface {
	Start(ctx context.Context) error
	Write(ctx context.Context, pcm []byte) error
	// Clear drops whatever the device has buffered but not yet played.
	Clear() error
	Config() Config
	Name() string
	Close() error
}

// NewSource opens a capture device for cfg.Backend, picking one for the
// platform when it is empty or auto.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	backend, logger, err := prepare(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("opening audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_ms", cfg.FrameDuration.Milliseconds(),
	)

	if backend == BackendMock {
		return NewMockSource(cfg, logger), nil
	}
	return NewExecSource(backend, cfg, logger), nil
}

// NewSink opens a playback device the same way NewSource does.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	backend, logger, err := prepare(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("opening audio sink", "backend", backend, "sample_rate", cfg.SampleRate, "channels", cfg.Channels)

	if backend == BackendMock {
		return NewMockSink(cfg, logger), nil
	}
	return NewExecSink(backend, cfg, logger), nil
}

func prepare(cfg Config, logger *slog.Logger) (Backend, *slog.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == "" || backend == BackendAuto {
		backend = BackendSox
		if runtime.GOOS == "linux" {
			backend = BackendALSA
		}
	}
	switch backend {
	case BackendALSA, BackendSox, BackendMock:
		return backend, logger, nil
	}
	return "", nil, fmt.Errorf("audioio: unsupported backend %q", backend)
}
