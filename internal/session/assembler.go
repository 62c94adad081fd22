package session

import "github.com/voicewire/voicewire/internal/playback"

// Assembler accumulates ordered binary media fragments for one session and
// concatenates them, in arrival order, into a single playable media object.
// It never drops or reorders a fragment; admission control is the owning
// session's job.
type Assembler struct {
	mediaType string
	frames    [][]byte
	total     int
	final     *playback.Media
}

func NewAssembler(mediaType string) *Assembler {
	return &Assembler{mediaType: mediaType}
}

// Append copies frame into the accumulation buffer. Must not be called
// after Finalize.
func (a *Assembler) Append(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	a.frames = append(a.frames, buf)
	a.total += len(buf)
}

func (a *Assembler) FrameCount() int { return len(a.frames) }

func (a *Assembler) TotalBytes() int { return a.total }

// Finalize concatenates the accumulated fragments into one immutable media
// object. Idempotent: repeated calls return the same object without
// reprocessing.
func (a *Assembler) Finalize() playback.Media {
	if a.final != nil {
		return *a.final
	}
	data := make([]byte, 0, a.total)
	for _, frame := range a.frames {
		data = append(data, frame...)
	}
	a.final = &playback.Media{Type: a.mediaType, Data: data}
	return *a.final
}
