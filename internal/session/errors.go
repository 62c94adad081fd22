package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest rejects a submission whose text is empty after
	// trimming surrounding whitespace. Raised before any transport I/O.
	ErrInvalidRequest = errors.New("invalid request: empty text")

	// ErrClientClosed rejects submissions after Close.
	ErrClientClosed = errors.New("client closed")
)

// ProtocolViolationError reports an inbound message inconsistent with the
// session's current state. Non-fatal: the session stays in its state and
// the channel remains usable.
type ProtocolViolationError struct {
	State  State
	Detail string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol violation in state %s: %s", e.State, e.Detail)
}
