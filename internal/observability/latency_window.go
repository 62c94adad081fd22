package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// PhaseStats summarizes one delivery phase over the rolling window.
type PhaseStats struct {
	Phase   string  `json:"phase"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
}

// LatencySnapshot is a point-in-time view of all observed phases.
type LatencySnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Phases      []PhaseStats `json:"phases"`
}

// LatencyWindow keeps the most recent latency samples per delivery phase
// in a fixed-size ring, cheap enough to update on every stream.
type LatencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	phases     map[string]*phaseBuffer
}

type phaseBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func NewLatencyWindow(maxSamples int) *LatencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &LatencyWindow{
		maxSamples: maxSamples,
		phases:     make(map[string]*phaseBuffer),
	}
}

func (w *LatencyWindow) Observe(phase string, ms float64) {
	if phase == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.phases[phase]
	if !ok {
		buf = &phaseBuffer{values: make([]float64, w.maxSamples)}
		w.phases[phase] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *LatencyWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.phases))
	for phase := range w.phases {
		keys = append(keys, phase)
	}
	sort.Strings(keys)

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
	}
	for _, phase := range keys {
		buf := w.phases[phase]
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n == 0 {
			continue
		}

		values := make([]float64, n)
		copy(values, buf.values[:n])
		sort.Float64s(values)

		sum := 0.0
		for _, v := range values {
			sum += v
		}

		snap.Phases = append(snap.Phases, PhaseStats{
			Phase:   phase,
			Samples: n,
			LastMS:  buf.last,
			AvgMS:   sum / float64(n),
			P50MS:   percentile(values, 0.50),
			P95MS:   percentile(values, 0.95),
		})
	}
	return snap
}

// percentile reads from an ascending-sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
