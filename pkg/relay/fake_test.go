package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-voice/pkg/hub"
)

type fakeMsg struct {
	typ  int
	data []byte
	err  error
}

// fakeConn is an in-memory Conn. Tests push what the peer "sends" and
// read back what the bridge wrote.
type fakeConn struct {
	in      chan fakeMsg
	written chan fakeMsg
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes []fakeMsg
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan fakeMsg, 16),
		written: make(chan fakeMsg, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.in:
		if m.err != nil {
			return 0, nil, m.err
		}
		return m.typ, m.data, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (f *fakeConn) WriteMessage(typ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("write on closed connection")
	default:
	}
	if typ == websocket.CloseMessage {
		return nil
	}
	m := fakeMsg{typ: typ, data: append([]byte(nil), data...)}
	f.mu.Lock()
	f.writes = append(f.writes, m)
	f.mu.Unlock()
	f.written <- m
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(typ int, data string) {
	f.in <- fakeMsg{typ: typ, data: []byte(data)}
}

func (f *fakeConn) fail(err error) {
	f.in <- fakeMsg{err: err}
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeConn) next(t *testing.T) fakeMsg {
	t.Helper()
	select {
	case m := <-f.written:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return fakeMsg{}
	}
}

func (f *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

type fakeDialer struct {
	conn  Conn
	err   error
	calls int
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *recordingSink) Publish(ev hub.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}
