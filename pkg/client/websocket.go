package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aeolun/chatsync/pkg/protocol"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// WebSocketConn wraps a websocket with envelope framing and serialized writes
type WebSocketConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

// DialWebSocket connects to the socket endpoint at rawURL (ws:// or wss://)
func DialWebSocket(ctx context.Context, rawURL string, header http.Header) (*WebSocketConn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
		Proxy:            http.ProxyFromEnvironment,
	}

	ws, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		// Improve error message for common TLS/handshake issues
		if strings.Contains(err.Error(), "bad handshake") {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			if strings.HasPrefix(rawURL, "wss://") {
				return nil, fmt.Errorf("TLS handshake failed (status %d) - server may not support WSS (try use_tls = false): %w", status, err)
			}
			return nil, fmt.Errorf("handshake failed (status %d) - server may require WSS/TLS (try use_tls = true): %w", status, err)
		}
		return nil, err
	}

	ws.SetReadLimit(protocol.MaxFrameSize)

	return NewWebSocketConn(ws), nil
}

// NewWebSocketConn wraps an established websocket
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{ws: ws}
}

// ReadEnvelope blocks for the next text frame and decodes it
func (c *WebSocketConn) ReadEnvelope() (*protocol.Envelope, error) {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}

		// Envelopes are JSON text frames; anything else is ignored
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := protocol.DecodeFrame(data)
		if err != nil {
			return nil, &frameError{err: err}
		}
		return env, nil
	}
}

// WriteEnvelope encodes and sends one envelope
func (c *WebSocketConn) WriteEnvelope(env *protocol.Envelope) (int, error) {
	data, err := protocol.EncodeFrame(env)
	if err != nil {
		return 0, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return 0, net.ErrClosed
	}
	c.closeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return 0, err
	}

	return len(data), nil
}

// Close sends a close frame and closes the socket
func (c *WebSocketConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// WriteControl may run concurrently with WriteMessage
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return c.ws.Close()
}

// RemoteAddr returns the server address
func (c *WebSocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}
