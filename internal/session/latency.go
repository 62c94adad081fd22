package session

import "time"

// Tracker records per-request delivery timestamps and counters. Marks are
// first-call-wins so redundant frame-arrival events cannot skew a reading.
// Not safe for concurrent use: the owning session serializes all access.
type Tracker struct {
	requestAt    time.Time
	firstFrameAt time.Time
	frames       int
	bytes        int64
}

func (t *Tracker) Reset() {
	*t = Tracker{}
}

func (t *Tracker) MarkRequest() {
	if t.requestAt.IsZero() {
		t.requestAt = time.Now()
	}
}

func (t *Tracker) MarkFirstFrame() {
	if t.firstFrameAt.IsZero() {
		t.firstFrameAt = time.Now()
	}
}

func (t *Tracker) ObserveFrame(size int) {
	t.frames++
	t.bytes += int64(size)
}

// FirstByteLatency is the elapsed time between the request send and the
// first frame's arrival. Zero when no frame has been marked.
func (t *Tracker) FirstByteLatency() time.Duration {
	if t.requestAt.IsZero() || t.firstFrameAt.IsZero() {
		return 0
	}
	d := t.firstFrameAt.Sub(t.requestAt)
	if d < 0 {
		return 0
	}
	return d
}

func (t *Tracker) Frames() int { return t.frames }

func (t *Tracker) Bytes() int64 { return t.bytes }

func (t *Tracker) Kilobytes() float64 { return float64(t.bytes) / 1024 }
