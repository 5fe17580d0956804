package playback

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-voice/pkg/audioio"
)

// writeAhead is how long before its start time a buffer is handed to the
// sink, so the device never runs dry between buffers.
const writeAhead = 40 * time.Millisecond

// SinkClock is a real-time Clock that renders buffers to an audioio.Sink.
// A single worker writes buffers in start order; end callbacks fire from
// timers at each buffer's end time.
type SinkClock struct {
	sink   audioio.Sink
	format audioio.Config
	logger *slog.Logger
	epoch  time.Time

	mu      sync.Mutex
	pending []*sinkVoice
	active  map[*sinkVoice]struct{}
	closed  bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

type sinkVoice struct {
	clock   *SinkClock
	pcm     []byte
	start   time.Duration
	end     time.Duration
	onEnded func()

	// guarded by clock.mu
	stopped bool
	written bool
	timer   *time.Timer
}

// NewSinkClock starts sink and a worker that feeds it. The timeline starts
// at zero when NewSinkClock returns.
func NewSinkClock(ctx context.Context, sink audioio.Sink, logger *slog.Logger) (*SinkClock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := sink.Start(ctx); err != nil {
		return nil, err
	}

	c := &SinkClock{
		sink:   sink,
		format: sink.Config(),
		logger: logger.With("component", "playback.clock", "backend", sink.Name()),
		epoch:  time.Now(),
		active: make(map[*sinkVoice]struct{}),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.wg.Add(1)
	go c.run()
	return c, nil
}

// Now implements Clock.
func (c *SinkClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// Schedule implements Clock.
func (c *SinkClock) Schedule(pcm []byte, at time.Duration, onEnded func()) Voice {
	v := &sinkVoice{
		clock:   c,
		pcm:     pcm,
		start:   at,
		end:     at + c.format.DurationOf(len(pcm)),
		onEnded: onEnded,
	}

	c.mu.Lock()
	if c.closed {
		v.stopped = true
		c.mu.Unlock()
		return v
	}
	i := sort.Search(len(c.pending), func(i int) bool { return c.pending[i].start > at })
	c.pending = append(c.pending, nil)
	copy(c.pending[i+1:], c.pending[i:])
	c.pending[i] = v
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return v
}

func (c *SinkClock) run() {
	defer c.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		v, wait := c.next()

		if v == nil {
			select {
			case <-c.done:
				return
			case <-c.wake:
			}
			continue
		}

		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-c.done:
				return
			case <-c.wake:
				timer.Stop()
				continue
			case <-timer.C:
				continue
			}
		}

		c.write(v)
	}
}

// next pops the earliest live buffer if it is due, otherwise reports how
// long until it is.
func (c *SinkClock) next() (*sinkVoice, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) > 0 && c.pending[0].stopped {
		c.pending = c.pending[1:]
	}
	if len(c.pending) == 0 {
		return nil, 0
	}

	v := c.pending[0]
	wait := v.start - writeAhead - c.Now()
	if wait > 0 {
		return v, wait
	}
	c.pending = c.pending[1:]
	return v, 0
}

func (c *SinkClock) write(v *sinkVoice) {
	if err := c.sink.Write(context.Background(), v.pcm); err != nil {
		c.logger.Warn("sink write failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v.stopped || c.closed {
		return
	}
	v.written = true
	c.active[v] = struct{}{}
	v.timer = time.AfterFunc(max(v.end-c.Now(), 0), v.fire)
}

func (v *sinkVoice) fire() {
	v.clock.mu.Lock()
	stopped := v.stopped
	v.stopped = true
	delete(v.clock.active, v)
	v.clock.mu.Unlock()

	if !stopped && v.onEnded != nil {
		v.onEnded()
	}
}

// Stop implements Voice. Stopping a buffer the sink already holds clears
// the sink.
func (v *sinkVoice) Stop() {
	c := v.clock
	c.mu.Lock()
	if v.stopped {
		c.mu.Unlock()
		return
	}
	v.stopped = true
	if v.timer != nil {
		v.timer.Stop()
	}
	delete(c.active, v)
	written := v.written
	c.mu.Unlock()

	if written {
		if err := c.sink.Clear(); err != nil {
			c.logger.Warn("sink clear failed", "error", err)
		}
	}
}

// Close stops every buffer, stops the worker and closes the sink.
// Calling Close more than once is safe.
func (c *SinkClock) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, v := range c.pending {
		v.stopped = true
	}
	for v := range c.active {
		v.stopped = true
		v.timer.Stop()
	}
	c.pending = nil
	c.active = nil
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()

	if err := c.sink.Clear(); err != nil {
		c.logger.Warn("sink clear failed", "error", err)
	}
	return c.sink.Close()
}

var _ Clock = (*SinkClock)(nil)
