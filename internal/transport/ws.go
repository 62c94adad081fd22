// Package transport provides the websocket implementation of the duplex
// streaming channel: JSON control messages interleaved with binary media
// frames on one connection.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicewire/voicewire/internal/protocol"
)

const inboundBuffer = 256

// WSChannel is a connected duplex channel. One goroutine owns all reads;
// writes are serialized behind a mutex. Within a connection the websocket
// framing preserves message order, so frames need no sequence numbers.
type WSChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	msgs      chan any
}

// Dial connects to a streaming endpoint and starts the receive loop.
func Dial(ctx context.Context, wsURL string) (*WSChannel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream websocket: %w", err)
	}
	c := &WSChannel{
		conn: conn,
		msgs: make(chan any, inboundBuffer),
	}
	go c.readLoop()
	return c, nil
}

// StreamURL derives the ws(s) streaming endpoint from an http(s) base URL.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base URL host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/tts"
	return u.String(), nil
}

// Send writes one synthesis request. Safe for concurrent use with the
// receive loop.
func (c *WSChannel) Send(ctx context.Context, req protocol.SpeakRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// Messages yields inbound peer messages in arrival order: protocol.Start,
// protocol.End, protocol.ErrorMessage, protocol.Frame, or an error value
// for a malformed control payload. Closed when the connection tears down.
func (c *WSChannel) Messages() <-chan any { return c.msgs }

// Close shuts the connection down. The Messages channel closes once the
// receive loop drains.
func (c *WSChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *WSChannel) readLoop() {
	defer close(c.msgs)
	defer func() { _ = c.Close() }()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			frame := make(protocol.Frame, len(data))
			copy(frame, data)
			c.msgs <- frame
		case websocket.TextMessage:
			parsed, err := protocol.ParsePeerMessage(data)
			if err != nil {
				c.msgs <- err
				continue
			}
			c.msgs <- parsed
		}
	}
}
