package playback

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
)

// The speaker device is process-global and initialized once, at the sample
// rate of the first decoded stream. Later streams at other rates are
// resampled onto it.
var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error
)

func initSpeaker(rate beep.SampleRate) error {
	speakerOnce.Do(func() {
		speakerRate = rate
		speakerErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	return speakerErr
}

// BeepEngine renders MP3 media through the host audio device.
type BeepEngine struct {
	mu       sync.Mutex
	streamer beep.StreamSeekCloser
	format   beep.Format
}

func NewBeepEngine() *BeepEngine {
	return &BeepEngine{}
}

func (e *BeepEngine) Load(media Media) (time.Duration, error) {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(media.Data)))
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}

	e.mu.Lock()
	e.streamer = streamer
	e.format = format
	e.mu.Unlock()
	return format.SampleRate.D(streamer.Len()), nil
}

func (e *BeepEngine) Play(done func()) error {
	e.mu.Lock()
	streamer := e.streamer
	format := e.format
	e.mu.Unlock()
	if streamer == nil {
		return fmt.Errorf("no media loaded")
	}

	if err := initSpeaker(format.SampleRate); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}

	var playable beep.Streamer = streamer
	if format.SampleRate != speakerRate {
		playable = beep.Resample(4, format.SampleRate, speakerRate, streamer)
	}
	speaker.Play(beep.Seq(playable, completionCallback(done)))
	return nil
}

// completionCallback hands done to its own goroutine. beep fires sequence
// callbacks from the mixer's pull while the speaker lock is held; a done
// that re-enters the speaker (Stop, speaker.Clear) or takes the session
// lock must not run there.
func completionCallback(done func()) beep.Streamer {
	return beep.Callback(func() { go done() })
}

func (e *BeepEngine) Stop() {
	e.mu.Lock()
	streamer := e.streamer
	e.streamer = nil
	e.mu.Unlock()
	if streamer == nil {
		return
	}
	speaker.Clear()
	_ = streamer.Close()
}
