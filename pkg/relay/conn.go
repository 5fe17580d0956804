package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a message-oriented websocket connection. The gorilla client
// connection and the fiber server connection both satisfy it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// UpstreamDialer opens the connection to the realtime service.
type UpstreamDialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Dialer dials the realtime service with gorilla/websocket.
type Dialer struct {
	// URL is the full endpoint including the model query.
	URL string

	// APIKey is sent as a bearer token.
	APIKey string

	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
}

// NewDialer creates a Dialer.
func NewDialer(url, apiKey string, handshakeTimeout time.Duration) *Dialer {
	return &Dialer{URL: url, APIKey: apiKey, HandshakeTimeout: handshakeTimeout}
}

// Dial implements UpstreamDialer.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL, headers)
	if err != nil {
		cerr := &ConnectionError{Op: "dial upstream", Cause: err}
		if resp != nil {
			cerr.StatusCode = resp.StatusCode
		}
		return nil, cerr
	}
	return conn, nil
}

// closeConn sends a normal close frame and closes the connection.
func closeConn(c Conn) {
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.Close()
}

// isNormalClose reports whether err is an orderly close by the peer.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
