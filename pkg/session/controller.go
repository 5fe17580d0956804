// Package session drives one voice conversation on the client side: it
// streams microphone frames to the relay, plays the assistant's audio and
// reports completed transcripts.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/teslashibe/go-voice/pkg/audioio"
	"github.com/teslashibe/go-voice/pkg/codec"
	"github.com/teslashibe/go-voice/pkg/playback"
	"github.com/teslashibe/go-voice/pkg/protocol"
)

// State is the lifecycle state of a Controller.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateClosed
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Capturer is the microphone side of a session. *audioio.Capturer
// implements it.
type Capturer interface {
	Start(ctx context.Context, onFrame audioio.FrameFunc) error
	Stop() error
	// Lost receives an error if the device fails after Start succeeded.
	Lost() <-chan error
}

// Notification is a one-line, user-facing status message.
type Notification struct {
	Title   string
	Message string
}

// Notifications raised by a session.
var (
	NoticeConnected       = Notification{"Connected", "Voice interface is ready. Start speaking!"}
	NoticeDisconnected    = Notification{"Disconnected", "Voice conversation ended"}
	NoticeMicrophoneError = Notification{"Microphone Error", "Failed to access microphone. Please check permissions."}
	NoticeConnectionError = Notification{"Connection Error", "Failed to connect to voice service"}
)

// TranscriptFunc receives one completed utterance. isUser is true for the
// user's speech and false for the assistant's.
type TranscriptFunc func(text string, isUser bool)

// Deps are the resources a session owns. The session takes ownership of
// Capturer and Clock and releases them on every exit path.
type Deps struct {
	Dialer   Dialer
	Capturer Capturer
	Clock    playback.Clock
}

// Config holds session parameters.
type Config struct {
	// Playback is the format of received audio. Default: 24kHz mono PCM16.
	Playback audioio.Config
}

// DefaultConfig returns the realtime session's audio format.
func DefaultConfig() Config {
	return Config{Playback: audioio.DefaultConfig()}
}

// Option configures a Controller.
type Option func(*Controller)

// WithTranscriptHandler sets the completed-utterance callback.
func WithTranscriptHandler(fn TranscriptFunc) Option {
	return func(c *Controller) {
		c.onTranscript = fn
	}
}

// WithSpeakingHandler is called when the assistant starts and stops
// speaking. fn must not call Interrupt.
func WithSpeakingHandler(fn func(speaking bool)) Option {
	return func(c *Controller) {
		c.onSpeaking = fn
	}
}

// WithNotifier receives user-facing status notifications.
func WithNotifier(fn func(Notification)) Option {
	return func(c *Controller) {
		c.onNotify = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller owns one conversation: the relay transport, the microphone,
// the playback queue and its clock. Callbacks run on the session's
// receive goroutine and must not block.
type Controller struct {
	id       string
	cfg      Config
	dialer   Dialer
	capturer Capturer
	clock    playback.Clock
	queue    *playback.Queue
	logger   *slog.Logger

	onTranscript TranscriptFunc
	onSpeaking   func(bool)
	onNotify     func(Notification)

	mu        sync.Mutex
	state     State
	transport Transport
	err       error

	teardownOnce sync.Once
	done         chan struct{}
	doneOnce     sync.Once

	// owned by the receive goroutine
	transcript strings.Builder

	speakMu       sync.Mutex
	speaking      atomic.Bool
	framesSent    atomic.Int64
	framesDropped atomic.Int64
}

// New creates an idle Controller.
func New(cfg Config, deps Deps, opts ...Option) *Controller {
	c := &Controller{
		id:       uuid.NewString(),
		cfg:      cfg,
		dialer:   deps.Dialer,
		capturer: deps.Capturer,
		clock:    deps.Clock,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "session", "session_id", c.id)
	c.queue = playback.NewQueue(c.clock, cfg.Playback, playback.WithLogger(c.logger))
	return c
}

// ID returns the session's unique identifier.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the session, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) endedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrEnded
}

// Wait returns a channel that is closed when the session has ended.
func (c *Controller) Wait() <-chan struct{} {
	return c.done
}

// Speaking reports whether assistant audio is being received.
func (c *Controller) Speaking() bool {
	return c.speaking.Load()
}

// Queue returns the playback queue.
func (c *Controller) Queue() *playback.Queue {
	return c.queue
}

// Stats holds frame counters.
type Stats struct {
	FramesSent    int64
	FramesDropped int64
	Playback      playback.Stats
}

// Stats returns frame and playback counters.
func (c *Controller) Stats() Stats {
	return Stats{
		FramesSent:    c.framesSent.Load(),
		FramesDropped: c.framesDropped.Load(),
		Playback:      c.queue.Stats(),
	}
}

// Start connects to the relay and then starts the microphone. ctx bounds
// only the connection handshake and device startup; the session runs until
// End or until the relay closes the connection.
//
// A dial failure returns a *ConnectionError and a microphone failure an
// error matching audioio.ErrDeviceUnavailable. Either leaves the session
// errored with every resource released.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNotIdle, state)
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.logger.Info("connecting")

	t, err := c.dialer.Dial(ctx)
	if err != nil {
		cerr := &ConnectionError{Op: "dial relay", Cause: err}
		c.logger.Error("relay connection failed", "error", err)
		c.notify(NoticeConnectionError)
		c.terminate(StateErrored, cerr)
		return cerr
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		t.Close()
		return c.endedErr()
	}
	c.transport = t
	c.mu.Unlock()

	if err := c.capturer.Start(ctx, func(frame []byte) { c.sendFrame(t, frame) }); err != nil {
		c.logger.Error("microphone unavailable", "error", err)
		c.notify(NoticeMicrophoneError)
		c.terminate(StateErrored, err)
		return err
	}

	// End may have run teardown while the device was starting.
	if c.State() != StateConnecting {
		c.capturer.Stop()
		return c.endedErr()
	}

	c.notify(NoticeConnected)
	go c.receive(t)
	go c.watchMicrophone(c.capturer.Lost())
	return nil
}

// End closes the connection and releases the microphone, the queued audio
// and the clock, in that order. It is safe to call more than once and from
// any state.
func (c *Controller) End() error {
	if c.terminate(StateClosed, nil) {
		c.notify(NoticeDisconnected)
	}
	return nil
}

// Interrupt discards queued assistant audio without ending the session.
func (c *Controller) Interrupt() {
	c.queue.Clear()
	c.setSpeaking(false)
}

func (c *Controller) sendFrame(t Transport, frame []byte) {
	encoded, err := codec.EncodeFrame(frame)
	if err != nil {
		c.framesDropped.Add(1)
		c.logger.Warn("dropping captured frame", "bytes", len(frame), "error", err)
		return
	}
	msg, err := protocol.NewAudioAppend(encoded)
	if err != nil {
		c.framesDropped.Add(1)
		return
	}
	// Frames are never buffered; a send on a closed transport is skipped.
	if err := t.Send(msg); err != nil {
		c.framesDropped.Add(1)
		if !errors.Is(err, ErrTransportClosed) {
			c.logger.Debug("frame send failed", "error", err)
		}
		return
	}
	c.framesSent.Add(1)
}

// watchMicrophone ends the session when the device goes away mid-session.
func (c *Controller) watchMicrophone(lost <-chan error) {
	select {
	case <-c.done:
	case err := <-lost:
		c.logger.Error("microphone lost", "error", err)
		if c.terminate(StateErrored, err) {
			c.notify(NoticeMicrophoneError)
		}
	}
}

// receive is the session's event loop.
func (c *Controller) receive(t Transport) {
	for {
		data, err := t.Receive()
		if err != nil {
			c.handleClose(err)
			return
		}

		c.mu.Lock()
		state := c.state
		if state == StateConnecting {
			c.state = StateActive
		}
		c.mu.Unlock()

		switch state {
		case StateConnecting:
			c.logger.Info("session active")
		case StateActive:
		default:
			return
		}

		if err := c.dispatch(data); err != nil {
			var uerr *UpstreamError
			if errors.As(err, &uerr) {
				c.logger.Error("upstream error", "type", uerr.Type, "code", uerr.Code, "message", uerr.Message)
				msg := uerr.Message
				if msg == "" {
					msg = "An error occurred"
				}
				c.notify(Notification{Title: "Error", Message: msg})
			}
			c.terminate(StateErrored, err)
			return
		}
	}
}

func (c *Controller) handleClose(err error) {
	if c.State() != StateConnecting && c.State() != StateActive {
		return
	}

	if isNormalClose(err) {
		c.logger.Info("relay closed the connection")
		if c.terminate(StateClosed, nil) {
			c.notify(NoticeDisconnected)
		}
		return
	}

	cerr := &ConnectionError{Op: "receive", Cause: err}
	c.logger.Error("relay connection lost", "error", err)
	if c.terminate(StateErrored, cerr) {
		c.notify(NoticeConnectionError)
	}
}

// dispatch handles one inbound envelope. Only an error envelope ends the
// session; anything unreadable is logged and skipped.
func (c *Controller) dispatch(data []byte) error {
	ev, err := protocol.ParseEvent(data)
	if err != nil {
		c.logger.Warn("ignoring unreadable message", "error", err)
		return nil
	}

	switch ev.Type {
	case protocol.TypeAudioDelta:
		pcm, err := codec.DecodeChunk(ev.Delta)
		if err != nil {
			c.logger.Warn("dropping audio chunk", "error", err)
			return nil
		}
		// Enqueue under the lock so terminate's Clear always follows it.
		c.mu.Lock()
		active := c.state == StateActive
		if active {
			err = c.queue.Enqueue(pcm)
		}
		c.mu.Unlock()
		if !active || err != nil {
			return nil
		}
		c.setSpeaking(true)

	case protocol.TypeAudioDone:
		c.setSpeaking(false)

	case protocol.TypeInputTranscriptionCompleted:
		c.emit(ev.Transcript, true)

	case protocol.TypeTranscriptDelta:
		c.transcript.WriteString(ev.Delta)

	case protocol.TypeTranscriptDone:
		text := ev.Transcript
		if text == "" {
			text = c.transcript.String()
		}
		c.transcript.Reset()
		c.emit(text, false)

	case protocol.TypeError:
		d := ev.ErrorDetail()
		return &UpstreamError{Type: d.Type, Code: d.Code, Message: d.Message}

	default:
		c.logger.Debug("event", "type", ev.Type)
	}
	return nil
}

func (c *Controller) emit(text string, isUser bool) {
	if text == "" || c.onTranscript == nil {
		return
	}
	c.onTranscript(text, isUser)
}

// setSpeaking reports speaking transitions in order. Speaking cannot turn
// on once the session has left active.
func (c *Controller) setSpeaking(v bool) {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	if v && c.State() != StateActive {
		return
	}
	if c.speaking.Swap(v) != v && c.onSpeaking != nil {
		c.onSpeaking(v)
	}
}

func (c *Controller) notify(n Notification) {
	if c.onNotify != nil {
		c.onNotify(n)
	}
}

// terminate moves the session through closing to final and releases
// everything it owns. Only the first call has any effect; it reports
// whether this call was the one that ended the session.
func (c *Controller) terminate(final State, err error) bool {
	c.mu.Lock()
	if c.state == StateClosing || c.state.Terminal() {
		c.mu.Unlock()
		return false
	}
	from := c.state
	c.state = StateClosing
	t := c.transport
	c.mu.Unlock()

	c.logger.Info("closing session", "from", from, "to", final)

	if t != nil {
		t.Close()
	}
	c.teardown()
	c.setSpeaking(false)

	c.mu.Lock()
	c.state = final
	c.err = err
	c.mu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
	c.logger.Info("session ended", "state", final, "frames_sent", c.framesSent.Load())
	return true
}

// teardown releases the microphone, clears queued audio and closes the
// clock, in that order, exactly once.
func (c *Controller) teardown() {
	c.teardownOnce.Do(func() {
		if err := c.capturer.Stop(); err != nil {
			c.logger.Warn("microphone stop failed", "error", err)
		}
		c.queue.Clear()
		if err := c.clock.Close(); err != nil {
			c.logger.Warn("clock close failed", "error", err)
		}
	})
}
