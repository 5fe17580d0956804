package audioio

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// FrameFunc receives one captured frame of mono PCM16 little-endian bytes.
// The slice is owned by the callee.
type FrameFunc func(frame []byte)

// Capturer turns a Source into a stream of fixed-format frames delivered to
// a callback. Frames are converted to mono at the target rate when the
// device delivers something else.
type Capturer struct {
	src        Source
	targetRate int
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	lostCh  chan error
	wg      sync.WaitGroup

	frames atomic.Int64
	level  atomic.Uint64
}

// CapturerOption configures a Capturer.
type CapturerOption func(*Capturer)

// WithTargetRate sets the output sample rate. Default: the source's rate.
func WithTargetRate(rate int) CapturerOption {
	return func(c *Capturer) {
		c.targetRate = rate
	}
}

// WithCaptureLogger sets the logger.
func WithCaptureLogger(logger *slog.Logger) CapturerOption {
	return func(c *Capturer) {
		c.logger = logger
	}
}

// NewCapturer creates a Capturer over src.
func NewCapturer(src Source, opts ...CapturerOption) *Capturer {
	c := &Capturer{
		src:        src,
		targetRate: src.Config().SampleRate,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "audioio.capturer")
	return c
}

// Start acquires the device and begins delivering frames to onFrame from a
// single goroutine. A device that cannot be acquired yields an error
// matching ErrDeviceUnavailable, and onFrame is never called.
func (c *Capturer) Start(ctx context.Context, onFrame FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	if err := c.src.Start(ctx); err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			err = &DeviceError{Backend: c.src.Name(), Device: c.src.Config().Device, Cause: err}
		}
		c.logger.Warn("microphone unavailable", "error", err)
		return err
	}

	c.running = true
	c.stopCh = make(chan struct{})
	c.lostCh = make(chan error, 1)
	c.wg.Add(1)
	go c.deliver(c.src.Chunks(), c.stopCh, c.lostCh, onFrame)

	c.logger.Info("capture started", "backend", c.src.Name(), "target_rate", c.targetRate)
	return nil
}

func (c *Capturer) deliver(stream <-chan Chunk, stopCh <-chan struct{}, lostCh chan<- error, onFrame FrameFunc) {
	defer c.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case chunk, ok := <-stream:
			if !ok {
				c.lost(stopCh, lostCh)
				return
			}
			// Stop may have raced with the receive.
			select {
			case <-stopCh:
				return
			default:
			}

			if chunk.Channels != 1 || chunk.SampleRate != c.targetRate {
				chunk = chunk.Mono().Resample(c.targetRate)
			}

			c.frames.Add(1)
			c.level.Store(uint64(chunk.Level() * 1e6))
			onFrame(chunk.Bytes())
		}
	}
}

func (c *Capturer) lost(stopCh <-chan struct{}, lostCh chan<- error) {
	select {
	case <-stopCh:
		return
	default:
	}

	err := c.src.Err()
	if err == nil {
		err = errStreamEnded
	}
	if !errors.Is(err, ErrDeviceUnavailable) {
		err = &DeviceError{Backend: c.src.Name(), Device: c.src.Config().Device, Cause: err}
	}
	c.logger.Error("microphone lost", "error", err, "frames", c.frames.Load())
	lostCh <- err
}

// Stop halts capture and releases the device. When Stop returns no further
// frame callback will run. Stop must not be called from inside onFrame.
func (c *Capturer) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()

	err := c.src.Stop()
	c.logger.Info("capture stopped", "frames", c.frames.Load())
	return err
}

// Lost returns a channel that receives an error matching
// ErrDeviceUnavailable if the device stops delivering audio before Stop.
// Each Start makes a new channel; it is nil before the first Start.
func (c *Capturer) Lost() <-chan error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostCh
}

// Running reports whether the device is held. A lost device stays held
// until Stop.
func (c *Capturer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Frames returns the number of frames delivered so far.
func (c *Capturer) Frames() int64 {
	return c.frames.Load()
}

// Level returns the mean power of the most recent frame (0.0-1.0).
func (c *Capturer) Level() float64 {
	return float64(c.level.Load()) / 1e6
}
