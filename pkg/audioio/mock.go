package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MockSource emits one frame of synthetic audio per FrameDuration:
// silence by default, or a tone with WithTone.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	hz, gain float64
	startErr error

	mu     sync.Mutex
	chunks chan Chunk
	stop   chan struct{}
	lost   chan struct{}
	done   chan struct{}
	closed bool
	starts int
	err    error
}

// MockOption configures a MockSource.
type MockOption func(*MockSource)

// WithTone makes the source produce a sine wave of the given frequency
// and gain (0-1) on every channel.
func WithTone(hz, gain float64) MockOption {
	return func(m *MockSource) {
		m.hz, m.gain = hz, gain
	}
}

// WithStartError makes Start fail as though the device were denied.
func WithStartError(err error) MockOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a MockSource.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start implements Source.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return io.ErrClosedPipe
	case m.startErr != nil:
		return &DeviceError{Backend: "mock", Device: m.cfg.Device, Cause: m.startErr}
	case m.stop != nil:
		return nil
	}

	m.starts++
	m.err = nil
	m.chunks = make(chan Chunk, 10)
	m.stop = make(chan struct{})
	m.lost = make(chan struct{})
	m.done = make(chan struct{})
	go m.generate(ctx, m.chunks, m.stop, m.lost, m.done)
	m.logger.Debug("mock source started", "sample_rate", m.cfg.SampleRate, "tone_hz", m.hz)
	return nil
}

func (m *MockSource) generate(ctx context.Context, out chan<- Chunk, stop, lost, done chan struct{}) {
	defer close(done)
	defer close(out)

	tick := time.NewTicker(m.cfg.FrameDuration)
	defer tick.Stop()

	var t int
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-lost:
			return
		case <-tick.C:
		}

		n := m.cfg.FrameSamples()
		samples := make([]int16, n*m.cfg.Channels)
		if m.hz > 0 {
			for i := 0; i < n; i++ {
				v := int16(m.gain * 32767 * math.Sin(2*math.Pi*m.hz*float64(t+i)/float64(m.cfg.SampleRate)))
				for ch := 0; ch < m.cfg.Channels; ch++ {
					samples[i*m.cfg.Channels+ch] = v
				}
			}
		}
		t += n

		select {
		case out <- Chunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}:
		default:
		}
	}
}

// Stop implements Source.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

// Chunks implements Source.
func (m *MockSource) Chunks() <-chan Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks
}

// Fail ends the chunk stream as though the device had gone away. Err
// reports err until the next Start.
func (m *MockSource) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lost == nil || m.err != nil {
		return
	}
	m.err = &DeviceError{Backend: "mock", Device: m.cfg.Device, Cause: err}
	close(m.lost)
}

// Err implements Source.
func (m *MockSource) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MockSource) Config() Config { return m.cfg }
func (m *MockSource) Name() string   { return "mock" }

// Close implements Source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Running reports whether the source holds the device.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// Starts counts successful device acquisitions.
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

var _ Source = (*MockSource)(nil)

// MockSink records everything written to it.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	written [][]byte
	clears  int
}

// NewMockSink creates a MockSink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start implements Sink.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.started = true
	return nil
}

// Write implements Sink. The buffer is copied.
func (m *MockSink) Write(ctx context.Context, pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.started {
		return io.ErrClosedPipe
	}
	m.written = append(m.written, append([]byte(nil), pcm...))
	return nil
}

// Clear implements Sink.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	return nil
}

func (m *MockSink) Config() Config { return m.cfg }
func (m *MockSink) Name() string   { return "mock" }

// Close implements Sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Written returns every buffer written so far, in order.
func (m *MockSink) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

// Clears counts calls to Clear.
func (m *MockSink) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// Closed reports whether Close was called.
func (m *MockSink) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Sink = (*MockSink)(nil)
