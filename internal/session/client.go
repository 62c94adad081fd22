package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/voicewire/voicewire/internal/playback"
	"github.com/voicewire/voicewire/internal/protocol"
)

// Channel is the duplex transport boundary the client consumes. Messages
// yields inbound peer messages in arrival order: protocol.Start,
// protocol.End, protocol.ErrorMessage or protocol.Frame. The channel closes
// Messages when the transport tears down. Send may also fail asynchronously
// after it returns; such failures surface as a closed Messages channel.
type Channel interface {
	Send(ctx context.Context, req protocol.SpeakRequest) error
	Messages() <-chan any
	Close() error
}

const defaultMediaType = "audio/mpeg"

// Client owns one transport channel and drives at most one non-terminal
// session over it at a time. All state transitions are serialized behind a
// single mutex: the receive loop, caller commands and playback completion
// callbacks never interleave mid-transition.
type Client struct {
	ch        Channel
	engine    playback.Engine
	hub       *Hub
	mediaType string

	mu      sync.Mutex
	current *Session
	closed  bool

	// sendMu keeps wire sends in session-creation order. Acquired before
	// mu is released in Submit, never while holding it elsewhere.
	sendMu sync.Mutex

	recvDone chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithMediaType overrides the media type tag applied to assembled audio.
func WithMediaType(mediaType string) Option {
	return func(c *Client) { c.mediaType = mediaType }
}

// NewClient starts consuming ch immediately. The engine is reused across
// sessions; only one session holds it at a time.
func NewClient(ch Channel, engine playback.Engine, opts ...Option) *Client {
	c := &Client{
		ch:        ch,
		engine:    engine,
		hub:       NewHub(),
		mediaType: defaultMediaType,
		recvDone:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.recvLoop()
	return c
}

// Subscribe registers an observer for status, metric and violation events.
func (c *Client) Subscribe(buffer int) (<-chan Event, func()) {
	return c.hub.Subscribe(buffer)
}

// Session returns the id and state of the current session, or
// ("", StateIdle) when none has been submitted yet.
func (c *Client) Session() (string, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", StateIdle
	}
	return c.current.id, c.current.state
}

// Submit validates req, retires any active session (stop-then-replace; no
// queuing) and sends the request on the channel. The returned id identifies
// the new session in subsequent events. A synchronous transport failure
// moves the new session to Errored and is also returned to the caller.
// Concurrent Submit calls send in the order their sessions were created.
func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrInvalidRequest
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClientClosed
	}
	if c.current != nil {
		c.current.stop()
	}
	s := newSession(req, c.mediaType, c.engine, c.hub, c.playbackDone)
	s.submitted()
	c.current = s
	c.sendMu.Lock()
	c.mu.Unlock()

	err := c.ch.Send(ctx, req.wire())
	c.sendMu.Unlock()
	if err != nil {
		c.mu.Lock()
		if c.current == s {
			s.fail(fmt.Sprintf("send request: %v", err))
		}
		c.mu.Unlock()
		return s.id, fmt.Errorf("send request: %w", err)
	}
	return s.id, nil
}

// Stop retires the current session. Idempotent and safe to call from any
// state, including before the first Submit.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current.stop()
	}
}

// Close stops the current session, tears down the channel and waits for the
// receive loop to drain.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.current != nil {
		c.current.stop()
	}
	c.mu.Unlock()

	err := c.ch.Close()
	<-c.recvDone
	return err
}

func (c *Client) recvLoop() {
	defer close(c.recvDone)
	for msg := range c.ch.Messages() {
		c.dispatch(msg)
	}

	// Transport gone. If that was not our own Close, the active request
	// cannot complete.
	c.mu.Lock()
	if !c.closed && c.current != nil {
		c.current.fail("channel closed")
	}
	c.mu.Unlock()
}

func (c *Client) dispatch(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current
	if s == nil {
		c.hub.publish(Event{
			Kind:   KindProtocolViolation,
			Detail: fmt.Sprintf("inbound %T with no session submitted", msg),
		})
		return
	}

	switch m := msg.(type) {
	case protocol.Frame:
		s.handleFrame(m)
	case protocol.Start:
		s.handleStart(m)
	case protocol.End:
		s.handleEnd(m)
	case protocol.ErrorMessage:
		s.handlePeerError(m)
	case error:
		s.emitViolation(fmt.Sprintf("malformed control message: %v", m))
	default:
		s.emitViolation(fmt.Sprintf("unsupported inbound message %T", msg))
	}
}

// playbackDone is handed to each session as its completion sink; it
// re-enters the client lock so the transition is serialized with inbound
// dispatch and caller commands.
func (c *Client) playbackDone(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		s.playbackDone()
	}
}
