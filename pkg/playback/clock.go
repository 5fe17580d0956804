// Package playback schedules received speech so that consecutive chunks play
// back to back with no gaps and no overlap.
//
// A Queue owns the playback cursor and asks a Clock to render each chunk at
// a point on the clock's timeline. SinkClock renders to an audioio.Sink in
// real time; ManualClock is advanced by hand.
package playback

import (
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-voice/pkg/audioio"
)

// Voice is a buffer scheduled on a Clock.
type Voice interface {
	// Stop cancels the buffer whether it is waiting or playing. A buffer
	// stopped before it ends never reports its end.
	Stop()
}

// Clock is a per-session audio timeline.
type Clock interface {
	// Now returns the current position on the timeline.
	Now() time.Duration

	// Schedule renders pcm starting at the given position and calls
	// onEnded once it has finished playing. Implementations never call
	// onEnded from inside Schedule.
	Schedule(pcm []byte, at time.Duration, onEnded func()) Voice

	// Close stops every scheduled buffer and releases the output.
	Close() error
}

// ManualClock is a Clock whose time only moves when Advance is called.
type ManualClock struct {
	format audioio.Config

	mu     sync.Mutex
	now    time.Duration
	voices []*manualVoice
	played [][]byte
	closed bool
}

// Scheduled describes one buffer placed on a ManualClock.
type Scheduled struct {
	Start time.Duration
	End   time.Duration
	Bytes int
}

type manualVoice struct {
	clock   *ManualClock
	pcm     []byte
	start   time.Duration
	end     time.Duration
	onEnded func()
	stopped bool
	ended   bool
}

// NewManualClock creates a ManualClock that measures buffers in format.
func NewManualClock(format audioio.Config) *ManualClock {
	return &ManualClock{format: format}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Schedule implements Clock.
func (c *ManualClock) Schedule(pcm []byte, at time.Duration, onEnded func()) Voice {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := &manualVoice{
		clock:   c,
		pcm:     pcm,
		start:   at,
		end:     at + c.format.DurationOf(len(pcm)),
		onEnded: onEnded,
		stopped: c.closed,
	}
	c.voices = append(c.voices, v)
	return v
}

// Advance moves time forward by d and fires the end callback of every
// buffer that has finished, in end order.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d

	var due []*manualVoice
	for _, v := range c.voices {
		if !v.stopped && !v.ended && v.end <= c.now {
			v.ended = true
			c.played = append(c.played, v.pcm)
			due = append(due, v)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].end < due[j].end })
	for _, v := range due {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
}

// Scheduled returns every buffer scheduled so far, including stopped ones.
func (c *ManualClock) Scheduled() []Scheduled {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Scheduled, len(c.voices))
	for i, v := range c.voices {
		out[i] = Scheduled{Start: v.start, End: v.end, Bytes: len(v.pcm)}
	}
	return out
}

// Played returns the buffers that played to completion, in end order.
func (c *ManualClock) Played() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.played))
	copy(out, c.played)
	return out
}

// Closed reports whether Close has been called.
func (c *ManualClock) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close implements Clock.
func (c *ManualClock) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, v := range c.voices {
		v.stopped = true
	}
	return nil
}

func (v *manualVoice) Stop() {
	v.clock.mu.Lock()
	defer v.clock.mu.Unlock()
	v.stopped = true
}

var _ Clock = (*ManualClock)(nil)
