package playback

import (
	"errors"
	"time"
)

// Media is one complete assembled audio object, immutable once produced.
type Media struct {
	Type string
	Data []byte
}

func (m Media) Empty() bool { return len(m.Data) == 0 }

var (
	// ErrUnplayable indicates the engine rejected the media format.
	ErrUnplayable = errors.New("unplayable media")
	// ErrNoMedia indicates an empty media object; playback is a no-op.
	ErrNoMedia = errors.New("no media to play")
)

// Engine is the playback capability the controller drives.
//
// Load decodes media and returns a duration estimate. Play begins playback
// and invokes done exactly once on natural completion; done must be invoked
// from a separate goroutine, never from inside Play itself. Stop halts
// playback and releases the decode handle; it must be safe to call after a
// failed Load, after Play, and more than once.
type Engine interface {
	Load(media Media) (time.Duration, error)
	Play(done func()) error
	Stop()
}
