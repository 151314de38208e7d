package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	pongWait                = 60 * time.Second
	writeWait               = 10 * time.Second
	maxMessageSize          = 4 << 20 // generous, frames carry base64 JPEG payloads
)

// Conn is one established duplex connection to the station.
type Conn interface {
	// ReadMessage blocks until the next message arrives or the
	// connection fails.
	ReadMessage() ([]byte, error)
	// Close tears the connection down. Safe to call repeatedly and
	// concurrently with ReadMessage.
	Close() error
}

// Transport establishes connections to a streaming endpoint. Dial is
// called once per connection attempt; the returned Conn belongs to the
// caller.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebSocketTransport dials ws:// and wss:// endpoints.
type WebSocketTransport struct {
	// HandshakeTimeout bounds the dial including the upgrade
	// handshake. Zero means defaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// Dial connects to the endpoint and arms read liveness: the station
// pings periodically, and a connection that misses pings for pongWait
// fails its next read.
func (t *WebSocketTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	timeout := t.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		if e, ok := err.(net.Error); ok && e.Temporary() {
			return nil
		}
		return err
	})

	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		// Best-effort close handshake before dropping the socket.
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
