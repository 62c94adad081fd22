package playback

import (
	"fmt"
	"sync"
	"time"
)

// Controller binds one assembled media object to an engine for the lifetime
// of a single playback. It owns the media handle from Start until Stop or
// natural completion and guarantees the engine is released on every exit
// path, including load and play failures.
type Controller struct {
	engine Engine

	mu       sync.Mutex
	started  bool
	released bool
}

func NewController(engine Engine) *Controller {
	return &Controller{engine: engine}
}

// Start loads media into the engine and begins playback. It returns the
// engine's duration estimate. Empty media returns ErrNoMedia without
// touching the engine. done fires at most once, after the handle has been
// released; it never fires once Stop has been called.
func (c *Controller) Start(media Media, done func()) (time.Duration, error) {
	if media.Empty() {
		return 0, ErrNoMedia
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return 0, fmt.Errorf("playback already started")
	}
	c.started = true
	c.mu.Unlock()

	duration, err := c.engine.Load(media)
	if err != nil {
		c.release()
		return 0, fmt.Errorf("%w: %v", ErrUnplayable, err)
	}

	err = c.engine.Play(func() {
		if c.releaseIfActive() && done != nil {
			done()
		}
	})
	if err != nil {
		c.release()
		return 0, fmt.Errorf("%w: %v", ErrUnplayable, err)
	}
	return duration, nil
}

// Stop halts playback and releases the engine handle. Idempotent; safe to
// call before Start, during playback, and after completion.
func (c *Controller) Stop() {
	c.release()
}

func (c *Controller) release() {
	c.mu.Lock()
	already := c.released
	c.released = true
	started := c.started
	c.mu.Unlock()
	if already || !started {
		return
	}
	c.engine.Stop()
}

// releaseIfActive releases the handle on natural completion and reports
// whether this call performed the release. A racing Stop wins: completion
// after Stop is silent.
func (c *Controller) releaseIfActive() bool {
	c.mu.Lock()
	already := c.released
	c.released = true
	c.mu.Unlock()
	if already {
		return false
	}
	c.engine.Stop()
	return true
}
