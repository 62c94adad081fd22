package session

import "sync"

// EventKind separates state announcements from measurements and from
// non-fatal protocol violation reports.
type EventKind string

const (
	KindStatus            EventKind = "status"
	KindMetric            EventKind = "metric"
	KindProtocolViolation EventKind = "protocol_violation"
)

type Status string

const (
	StatusStreaming     Status = "streaming"
	StatusPlaying       Status = "playing"
	StatusStopped       Status = "stopped"
	StatusError         Status = "error"
	StatusNothingToPlay Status = "nothing_to_play"
)

type Metric string

const (
	MetricFirstByteMS Metric = "first_byte_ms"
	MetricFrames      Metric = "frames"
	MetricBytes       Metric = "bytes"
	MetricTotalMS     Metric = "total_ms"
	MetricBufferMS    Metric = "buffer_ms"
)

// Event is one observable session notification. Status and Detail are set
// for KindStatus and KindProtocolViolation; Metric and Value for KindMetric.
type Event struct {
	SessionID string
	Kind      EventKind
	Status    Status
	Metric    Metric
	Value     float64
	Detail    string
}

// Hub fans events out to any number of subscribers. Events reach each
// subscriber in publish order; a subscriber whose buffer is full misses the
// event rather than stalling the session.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a new observer. The returned cancel function closes
// the event channel and may be called more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}
