package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MessageType identifies peer control payload variants.
type MessageType string

const (
	TypeStart MessageType = "start"
	TypeEnd   MessageType = "end"
	TypeError MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// SpeakRequest is the caller-to-peer synthesis request. Rate carries a
// signed percent offset encoded as "+10%" or "-5%".
type SpeakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
}

type Envelope struct {
	Type MessageType `json:"type"`
}

// Start marks the beginning of one synthesized stream.
type Start struct {
	Type        MessageType `json:"type"`
	TimestampMS float64     `json:"timestamp,omitempty"`
}

// End marks stream completion and carries the peer's delivery stats.
type End struct {
	Type       MessageType `json:"type"`
	Chunks     int         `json:"chunks"`
	Bytes      int64       `json:"bytes"`
	DurationMS int64       `json:"duration_ms"`
}

// ErrorMessage reports a synthesis or transport failure from the peer.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Frame is one binary media fragment. Frames are order-significant within
// a single stream.
type Frame []byte

// ParsePeerMessage decodes a text message received from the peer into one
// of Start, End or ErrorMessage.
func ParsePeerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeEnd:
		var msg End
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Chunks < 0 || msg.Bytes < 0 || msg.DurationMS < 0 {
			return nil, errors.New("invalid end message")
		}
		return msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// FormatRate encodes a signed rate percent as the wire form, e.g. "+10%".
func FormatRate(percent int) string {
	if percent < 0 {
		return strconv.Itoa(percent) + "%"
	}
	return "+" + strconv.Itoa(percent) + "%"
}

// ParseRate decodes the wire rate form back into a signed percent.
// "+0%" and "0%" both decode to zero.
func ParseRate(rate string) (int, error) {
	v := strings.TrimSpace(rate)
	if v == "" {
		return 0, nil
	}
	v = strings.TrimSuffix(v, "%")
	v = strings.TrimPrefix(v, "+")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	return n, nil
}
