package playback

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voice/pkg/audioio"
	"github.com/teslashibe/go-voice/pkg/codec"
)

// ErrMalformedChunk is returned by Enqueue for chunks that cannot be played.
var ErrMalformedChunk = codec.ErrMalformedChunk

// Queue schedules PCM16 chunks on a Clock in arrival order. Each chunk
// starts where the previous one ends, or now if the queue has run dry.
type Queue struct {
	clock     Clock
	format    audioio.Config
	logger    *slog.Logger
	onPlaying func(bool)

	mu         sync.Mutex
	cursor     time.Duration
	voices     map[uint64]Voice
	nextID     uint64
	generation uint64
	playing    bool

	enqueued atomic.Int64
	dropped  atomic.Int64
	cleared  atomic.Int64
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithPlayingCallback is called with true when playback starts and with
// false when it stops, once per run.
func WithPlayingCallback(fn func(playing bool)) QueueOption {
	return func(q *Queue) {
		q.onPlaying = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue creates a Queue rendering chunks of the given format on clock.
func NewQueue(clock Clock, format audioio.Config, opts ...QueueOption) *Queue {
	q := &Queue{
		clock:  clock,
		format: format,
		logger: slog.Default(),
		voices: make(map[uint64]Voice),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "playback.queue")
	return q
}

// Enqueue schedules chunk immediately after everything already queued.
// Empty chunks and chunks with a partial sample are dropped and reported
// as ErrMalformedChunk; the queue is left unchanged.
func (q *Queue) Enqueue(chunk []byte) error {
	if err := codec.ValidateChunk(chunk); err != nil {
		q.dropped.Add(1)
		q.logger.Warn("dropping audio chunk", "bytes", len(chunk), "error", err)
		return err
	}

	dur := q.format.DurationOf(len(chunk))

	q.mu.Lock()
	start := max(q.cursor, q.clock.Now())
	id := q.nextID
	q.nextID++
	gen := q.generation
	q.voices[id] = q.clock.Schedule(chunk, start, func() { q.ended(gen, id) })
	q.cursor = start + dur
	started := !q.playing
	q.playing = true
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.logger.Debug("chunk scheduled", "start", start, "duration", dur)

	if started {
		q.notify(true)
	}
	return nil
}

func (q *Queue) ended(gen, id uint64) {
	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		return
	}
	delete(q.voices, id)
	stopped := q.playing && len(q.voices) == 0
	if stopped {
		q.playing = false
	}
	q.mu.Unlock()

	if stopped {
		q.notify(false)
	}
}

// Clear stops everything scheduled and rewinds the cursor. Buffers that
// were cancelled never report their end. Clear on an empty queue does
// nothing.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.generation++
	voices := q.voices
	q.voices = make(map[uint64]Voice)
	q.cursor = 0
	wasPlaying := q.playing
	q.playing = false
	q.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}

	if len(voices) > 0 {
		q.cleared.Add(1)
		q.logger.Debug("playback cleared", "cancelled", len(voices))
	}
	if wasPlaying {
		q.notify(false)
	}
}

func (q *Queue) notify(playing bool) {
	if q.onPlaying != nil {
		q.onPlaying(playing)
	}
}

// Playing reports whether any scheduled chunk has yet to finish.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Cursor returns the time at which the next chunk would start if the
// clock has not passed it.
func (q *Queue) Cursor() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// Pending returns the number of chunks scheduled but not yet finished.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.voices)
}

// Stats contains playback counters.
type Stats struct {
	Enqueued int64 `json:"enqueued"`
	Dropped  int64 `json:"dropped"`
	Cleared  int64 `json:"cleared"`
	Pending  int   `json:"pending"`
	Playing  bool  `json:"playing"`
}

// Stats returns playback counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	pending, playing := len(q.voices), q.playing
	q.mu.Unlock()

	return Stats{
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
		Cleared:  q.cleared.Load(),
		Pending:  pending,
		Playing:  playing,
	}
}
