package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-voice/pkg/hub"
	"github.com/teslashibe/go-voice/pkg/protocol"
)

// BridgeState is the lifecycle state of a Bridge.
type BridgeState int32

const (
	// StateAwaitingUpstreamReady: upstream dialed, session.created not yet seen.
	StateAwaitingUpstreamReady BridgeState = iota
	// StateRelaying: session configured, messages flow both ways.
	StateRelaying
	// StateClosed: both sockets are closed. Terminal.
	StateClosed
)

// String returns the state name.
func (s BridgeState) String() string {
	switch s {
	case StateAwaitingUpstreamReady:
		return "awaiting_upstream_ready"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("BridgeState(%d)", int32(s))
	}
}

// EventSink receives bridge lifecycle events.
type EventSink interface {
	Publish(ev hub.Event)
}

type side int

const (
	fromClient side = iota
	fromUpstream
)

func (s side) String() string {
	if s == fromClient {
		return "client"
	}
	return "upstream"
}

// inbound is one read result from either socket.
type inbound struct {
	from side
	typ  int
	data []byte
	err  error
}

// Bridge relays one client connection to its own upstream connection.
// A single event loop is the only writer to both sockets.
type Bridge struct {
	id       string
	client   Conn
	upstream Conn
	dialer   UpstreamDialer
	session  protocol.SessionConfig
	logger   *slog.Logger

	readyTimeout time.Duration
	metrics      *Metrics
	registry     Registry
	events       EventSink
	remoteAddr   string

	state      atomic.Int32
	configured bool
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithSessionConfig sets the session.update payload.
func WithSessionConfig(cfg protocol.SessionConfig) BridgeOption {
	return func(b *Bridge) {
		b.session = cfg
	}
}

// WithReadyTimeout closes the bridge if session.created does not arrive
// within d. Zero disables the timeout.
func WithReadyTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		b.readyTimeout = d
	}
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics records bridge activity in m.
func WithMetrics(m *Metrics) BridgeOption {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithRegistry records the bridge in r while it runs.
func WithRegistry(r Registry) BridgeOption {
	return func(b *Bridge) {
		b.registry = r
	}
}

// WithEvents publishes lifecycle events to sink.
func WithEvents(sink EventSink) BridgeOption {
	return func(b *Bridge) {
		b.events = sink
	}
}

// WithRemoteAddr records the client's address.
func WithRemoteAddr(addr string) BridgeOption {
	return func(b *Bridge) {
		b.remoteAddr = addr
	}
}

// NewBridge creates a Bridge for client. Nothing happens until Run.
func NewBridge(client Conn, dialer UpstreamDialer, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		id:      uuid.NewString(),
		client:  client,
		dialer:  dialer,
		session: protocol.DefaultSessionConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "relay.bridge", "session_id", b.id)
	return b
}

// ID returns the bridge's unique identifier.
func (b *Bridge) ID() string {
	return b.id
}

// State returns the current state.
func (b *Bridge) State() BridgeState {
	return BridgeState(b.state.Load())
}

func (b *Bridge) setState(s BridgeState) {
	if BridgeState(b.state.Swap(int32(s))) == s {
		return
	}
	b.logger.Debug("state changed", "state", s)
	if b.registry != nil {
		if err := b.registry.Update(context.Background(), b.id, s.String()); err != nil {
			b.logger.Warn("registry update failed", "error", err)
		}
	}
	b.publish("bridge.state", map[string]any{"state": s.String()})
}

func (b *Bridge) publish(kind string, fields map[string]any) {
	if b.events != nil {
		b.events.Publish(hub.NewEvent(kind, b.id, fields))
	}
}

// Run dials the upstream and relays until either side closes or ctx is
// cancelled. Both sockets are closed when Run returns. A nil error means
// the session ended normally.
func (b *Bridge) Run(ctx context.Context) error {
	started := time.Now()
	b.open(ctx)
	defer b.finish(started)

	upstream, err := b.dialer.Dial(ctx)
	if err != nil {
		b.logger.Error("upstream dial failed", "error", err)
		if b.metrics != nil {
			b.metrics.DialErrors.Inc()
		}
		_ = b.client.WriteMessage(websocket.TextMessage, protocol.NewConnectionError())
		closeConn(b.client)
		b.setState(StateClosed)
		var cerr *ConnectionError
		if errors.As(err, &cerr) {
			return err
		}
		return &ConnectionError{Op: "dial upstream", Cause: err}
	}
	b.upstream = upstream
	b.logger.Info("upstream connected")

	return b.loop(ctx)
}

func (b *Bridge) open(ctx context.Context) {
	if b.metrics != nil {
		b.metrics.SessionsActive.Inc()
		b.metrics.SessionsTotal.Inc()
	}
	if b.registry != nil {
		info := SessionInfo{
			ID:         b.id,
			RemoteAddr: b.remoteAddr,
			State:      StateAwaitingUpstreamReady.String(),
			OpenedAt:   time.Now().UTC(),
		}
		if err := b.registry.Add(ctx, info); err != nil {
			b.logger.Warn("registry add failed", "error", err)
		}
	}
	b.publish("bridge.opened", map[string]any{"remote_addr": b.remoteAddr})
	b.logger.Info("client connected", "remote_addr", b.remoteAddr)
}

func (b *Bridge) finish(started time.Time) {
	elapsed := time.Since(started)
	if b.metrics != nil {
		b.metrics.SessionsActive.Dec()
		b.metrics.SessionDuration.Observe(elapsed.Seconds())
	}
	if b.registry != nil {
		if err := b.registry.Remove(context.Background(), b.id); err != nil {
			b.logger.Warn("registry remove failed", "error", err)
		}
	}
	b.publish("bridge.closed", map[string]any{"duration_ms": elapsed.Milliseconds()})
	b.logger.Info("session closed", "duration", elapsed)
}

func (b *Bridge) read(from side, conn Conn, out chan<- inbound, done <-chan struct{}) {
	for {
		typ, data, err := conn.ReadMessage()
		select {
		case out <- inbound{from: from, typ: typ, data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (b *Bridge) loop(ctx context.Context) error {
	in := make(chan inbound)
	done := make(chan struct{})
	defer close(done)

	go b.read(fromClient, b.client, in, done)
	go b.read(fromUpstream, b.upstream, in, done)

	var ready <-chan time.Time
	if b.readyTimeout > 0 {
		timer := time.NewTimer(b.readyTimeout)
		defer timer.Stop()
		ready = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			b.closeBoth()
			return nil

		case <-ready:
			b.logger.Warn("upstream never became ready", "timeout", b.readyTimeout)
			b.failUpstream("await session.created", ErrReadyTimeout)
			return &ConnectionError{Op: "await session.created", Cause: ErrReadyTimeout}

		case msg := <-in:
			if msg.err != nil {
				return b.handleReadError(msg)
			}

			if msg.from == fromClient {
				if err := b.forward(b.upstream, msg); err != nil {
					b.failUpstream("write upstream", err)
					return &ConnectionError{Op: "write upstream", Cause: err}
				}
				continue
			}

			if b.State() == StateAwaitingUpstreamReady && !b.configured {
				ok, err := b.maybeConfigure(msg.data)
				if err != nil {
					b.failUpstream("send session.update", err)
					return &ConnectionError{Op: "send session.update", Cause: err}
				}
				if ok {
					ready = nil
				}
			}

			if err := b.forward(b.client, msg); err != nil {
				b.logger.Info("client write failed, closing", "error", err)
				b.closeBoth()
				return nil
			}
		}
	}
}

// maybeConfigure sends session.update if data is the first session.created.
func (b *Bridge) maybeConfigure(data []byte) (bool, error) {
	typ, err := protocol.PeekType(data)
	if err != nil || typ != protocol.TypeSessionCreated {
		return false, nil
	}

	b.configured = true
	update, err := protocol.NewSessionUpdate(b.session)
	if err != nil {
		return false, err
	}
	if err := b.upstream.WriteMessage(websocket.TextMessage, update); err != nil {
		return false, err
	}

	if b.metrics != nil {
		b.metrics.SessionUpdates.Inc()
	}
	b.logger.Info("session configured", "voice", b.session.Voice)
	b.setState(StateRelaying)
	return true, nil
}

func (b *Bridge) forward(to Conn, msg inbound) error {
	if err := to.WriteMessage(msg.typ, msg.data); err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.MessagesForwarded.WithLabelValues(msg.from.String()).Inc()
		b.metrics.BytesForwarded.WithLabelValues(msg.from.String()).Add(float64(len(msg.data)))
	}
	return nil
}

func (b *Bridge) handleReadError(msg inbound) error {
	if msg.from == fromClient {
		b.logger.Info("client disconnected", "error", msg.err)
		b.closeBoth()
		return nil
	}

	if isNormalClose(msg.err) {
		b.logger.Info("upstream closed")
		b.closeBoth()
		return nil
	}

	b.failUpstream("read upstream", msg.err)
	return &ConnectionError{Op: "read upstream", Cause: msg.err}
}

// failUpstream reports an abnormal upstream failure to the client and
// closes both sockets.
func (b *Bridge) failUpstream(op string, err error) {
	b.logger.Error("upstream connection error", "op", op, "error", err)
	_ = b.client.WriteMessage(websocket.TextMessage, protocol.NewConnectionError())
	b.closeBoth()
}

func (b *Bridge) closeBoth() {
	if b.upstream != nil {
		closeConn(b.upstream)
	}
	closeConn(b.client)
	b.setState(StateClosed)
}
