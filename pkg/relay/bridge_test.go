package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/teslashibe/go-voice/pkg/protocol"
)

const sessionCreated = `{"type":"session.created","session":{"id":"sess_1"}}`

func runBridge(t *testing.T, b *Bridge) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- b.Run(context.Background()) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
		return nil
	}
}

func TestBridgeConfiguresSessionOnce(t *testing.T) {
	client, upstream := newFakeConn(), newFakeConn()
	metrics := NewMetrics("test")
	registry := NewMemoryRegistry()
	b := NewBridge(client, &fakeDialer{conn: upstream}, WithMetrics(metrics), WithRegistry(registry))

	if b.State() != StateAwaitingUpstreamReady {
		t.Errorf("Expected initial state awaiting_upstream_ready, got %s", b.State())
	}
	errc := runBridge(t, b)

	upstream.push(websocket.TextMessage, sessionCreated)

	update := upstream.next(t)
	typ, err := protocol.PeekType(update.data)
	if err != nil || typ != protocol.TypeSessionUpdate {
		t.Fatalf("Expected session.update upstream, got %s (%v)", update.data, err)
	}

	forwarded := client.next(t)
	if string(forwarded.data) != sessionCreated {
		t.Errorf("Expected session.created forwarded verbatim, got %s", forwarded.data)
	}
	if b.State() != StateRelaying {
		t.Errorf("Expected state relaying, got %s", b.State())
	}
	if registry.Count() != 1 {
		t.Errorf("Expected 1 registered session, got %d", registry.Count())
	}

	// A second session.created is forwarded without another update.
	upstream.push(websocket.TextMessage, sessionCreated)
	client.next(t)
	if n := upstream.writeCount(); n != 1 {
		t.Errorf("Expected exactly one upstream write, got %d", n)
	}

	client.fail(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	if err := waitErr(t, errc); err != nil {
		t.Errorf("Expected nil error on client close, got %v", err)
	}

	if !upstream.isClosed() {
		t.Error("Expected upstream closed after client closed")
	}
	if b.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", b.State())
	}
	if got := testutil.ToFloat64(metrics.SessionUpdates); got != 1 {
		t.Errorf("Expected 1 session update, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsActive); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if registry.Count() != 0 {
		t.Errorf("Expected session removed from registry, got %d", registry.Count())
	}
}

func TestBridgeForwardsVerbatim(t *testing.T) {
	client, upstream := newFakeConn(), newFakeConn()
	b := NewBridge(client, &fakeDialer{conn: upstream})
	errc := runBridge(t, b)

	t.Run("client messages before ready", func(t *testing.T) {
		msg := `{"type":"input_audio_buffer.append","audio":"AAA="}`
		client.push(websocket.TextMessage, msg)

		got := upstream.next(t)
		if got.typ != websocket.TextMessage || string(got.data) != msg {
			t.Errorf("Expected %s forwarded as text, got type %d %s", msg, got.typ, got.data)
		}
	})

	upstream.push(websocket.TextMessage, sessionCreated)
	upstream.next(t) // session.update
	client.next(t)   // session.created

	t.Run("binary frames keep their type", func(t *testing.T) {
		client.push(websocket.BinaryMessage, "\x01\x02\x03")
		got := upstream.next(t)
		if got.typ != websocket.BinaryMessage || string(got.data) != "\x01\x02\x03" {
			t.Errorf("Expected binary frame forwarded, got type %d %v", got.typ, got.data)
		}
	})

	t.Run("upstream order preserved", func(t *testing.T) {
		for _, msg := range []string{
			`{"type":"response.audio.delta","delta":"AQA="}`,
			`{"type":"response.audio.delta","delta":"AgA="}`,
			`{"type":"response.audio.done"}`,
		} {
			upstream.push(websocket.TextMessage, msg)
		}
		for _, want := range []string{"AQA=", "AgA=", "response.audio.done"} {
			got := client.next(t)
			if !strings.Contains(string(got.data), want) {
				t.Errorf("Expected message containing %s, got %s", want, got.data)
			}
		}
	})

	t.Run("non-JSON passes through", func(t *testing.T) {
		upstream.push(websocket.TextMessage, "not json")
		if got := client.next(t); string(got.data) != "not json" {
			t.Errorf("Expected raw text forwarded, got %s", got.data)
		}
	})

	upstream.fail(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	if err := waitErr(t, errc); err != nil {
		t.Errorf("Expected nil error on normal upstream close, got %v", err)
	}
	client.waitClosed(t)
}

func TestBridgeUpstreamFailure(t *testing.T) {
	client, upstream := newFakeConn(), newFakeConn()
	b := NewBridge(client, &fakeDialer{conn: upstream})
	errc := runBridge(t, b)

	upstream.fail(errors.New("connection reset by peer"))

	got := client.next(t)
	if string(got.data) != `{"type":"error","error":"OpenAI connection error"}` {
		t.Errorf("Expected connection error envelope, got %s", got.data)
	}

	err := waitErr(t, errc)
	if !errors.Is(err, ErrConnection) {
		t.Errorf("Expected ErrConnection, got %v", err)
	}
	client.waitClosed(t)
	upstream.waitClosed(t)
	if b.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", b.State())
	}
}

func TestBridgeDialFailure(t *testing.T) {
	client := newFakeConn()
	metrics := NewMetrics("test")
	sink := &recordingSink{}
	b := NewBridge(client, &fakeDialer{err: errors.New("connection refused")}, WithMetrics(metrics), WithEvents(sink))

	err := b.Run(context.Background())

	var cerr *ConnectionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if cerr.Op != "dial upstream" {
		t.Errorf("Expected op 'dial upstream', got %q", cerr.Op)
	}

	got := client.next(t)
	if string(got.data) != string(protocol.NewConnectionError()) {
		t.Errorf("Expected connection error envelope, got %s", got.data)
	}
	if !client.isClosed() {
		t.Error("Expected client closed")
	}
	if b.State() != StateClosed {
		t.Errorf("Expected state closed, got %s", b.State())
	}
	if got := testutil.ToFloat64(metrics.DialErrors); got != 1 {
		t.Errorf("Expected 1 dial error, got %v", got)
	}

	kinds := sink.kinds()
	if len(kinds) == 0 || kinds[0] != "bridge.opened" || kinds[len(kinds)-1] != "bridge.closed" {
		t.Errorf("Expected opened ... closed events, got %v", kinds)
	}
}

func TestBridgeReadyTimeout(t *testing.T) {
	client, upstream := newFakeConn(), newFakeConn()
	b := NewBridge(client, &fakeDialer{conn: upstream}, WithReadyTimeout(50*time.Millisecond))
	errc := runBridge(t, b)

	got := client.next(t)
	if string(got.data) != `{"type":"error","error":"OpenAI connection error"}` {
		t.Errorf("Expected connection error envelope, got %s", got.data)
	}

	err := waitErr(t, errc)
	if !errors.Is(err, ErrReadyTimeout) {
		t.Errorf("Expected ErrReadyTimeout, got %v", err)
	}
	if !errors.Is(err, ErrConnection) {
		t.Errorf("Expected ErrConnection, got %v", err)
	}
	if !client.isClosed() || !upstream.isClosed() {
		t.Error("Expected both sockets closed")
	}
}

func TestBridgeReadyTimeoutDisarmed(t *testing.T) {
	client, upstream := newFakeConn(), newFakeConn()
	b := NewBridge(client, &fakeDialer{conn: upstream}, WithReadyTimeout(100*time.Millisecond))
	errc := runBridge(t, b)

	upstream.push(websocket.TextMessage, sessionCreated)
	upstream.next(t)
	client.next(t)

	time.Sleep(200 * time.Millisecond)
	if b.State() != StateRelaying {
		t.Errorf("Expected bridge still relaying, got %s", b.State())
	}

	client.fail(errors.New("client went away"))
	if err := waitErr(t, errc); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}

func TestBridgeContextCancel(t *testing.T) {
	client, upstream := newFakeConn(), newFakeConn()
	b := NewBridge(client, &fakeDialer{conn: upstream})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()

	upstream.push(websocket.TextMessage, sessionCreated)
	client.next(t)
	cancel()

	if err := waitErr(t, errc); err != nil {
		t.Errorf("Expected nil error on cancel, got %v", err)
	}
	if !client.isClosed() || !upstream.isClosed() {
		t.Error("Expected both sockets closed")
	}
}

func TestBridgeStateString(t *testing.T) {
	tests := []struct {
		state BridgeState
		want  string
	}{
		{StateAwaitingUpstreamReady, "awaiting_upstream_ready"},
		{StateRelaying, "relaying"},
		{StateClosed, "closed"},
		{BridgeState(9), "BridgeState(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
