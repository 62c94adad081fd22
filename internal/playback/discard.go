package playback

import (
	"sync"
	"time"
)

const defaultBitrateKbps = 128

// DiscardEngine accepts any media without rendering it. The duration
// estimate is derived from the payload size at an assumed constant bitrate,
// and completion fires as soon as playback starts. Used for latency
// benchmarking on hosts without an audio device, and in tests.
type DiscardEngine struct {
	BitrateKbps int

	mu     sync.Mutex
	loaded bool
	dur    time.Duration
}

func NewDiscardEngine() *DiscardEngine {
	return &DiscardEngine{BitrateKbps: defaultBitrateKbps}
}

func (e *DiscardEngine) Load(media Media) (time.Duration, error) {
	kbps := e.BitrateKbps
	if kbps <= 0 {
		kbps = defaultBitrateKbps
	}
	dur := time.Duration(len(media.Data)) * 8 * time.Millisecond / time.Duration(kbps)

	e.mu.Lock()
	e.loaded = true
	e.dur = dur
	e.mu.Unlock()
	return dur, nil
}

func (e *DiscardEngine) Play(done func()) error {
	go done()
	return nil
}

func (e *DiscardEngine) Stop() {
	e.mu.Lock()
	e.loaded = false
	e.mu.Unlock()
}
