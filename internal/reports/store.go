// Package reports records per-request delivery statistics: what was
// synthesized, how many frames and bytes went out, and how long delivery
// took. The audio itself is never persisted.
package reports

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Report is one completed (or failed) stream's delivery record.
type Report struct {
	ID         string    `json:"id"`
	Voice      string    `json:"voice"`
	TextChars  int       `json:"text_chars"`
	Chunks     int       `json:"chunks"`
	Bytes      int64     `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	Failed     bool      `json:"failed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists delivery reports.
type Store interface {
	Save(ctx context.Context, report Report) error
	ListRecent(ctx context.Context, limit int) ([]Report, error)
	Mode() string
	Close() error
}

// NewStore selects the backend: Postgres when a database URL is configured,
// an in-memory ring otherwise.
func NewStore(ctx context.Context, databaseURL string, historyLimit int) (Store, error) {
	if databaseURL == "" {
		return NewMemoryStore(historyLimit), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

// NewReport stamps a fresh report with an id and creation time.
func NewReport(voice string, textChars int) Report {
	return Report{
		ID:        uuid.NewString(),
		Voice:     voice,
		TextChars: textChars,
		CreatedAt: time.Now().UTC(),
	}
}

const defaultHistoryLimit = 512

// MemoryStore keeps the most recent reports in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	limit   int
	reports []Report
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &MemoryStore{limit: limit}
}

func (s *MemoryStore) Save(_ context.Context, report Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	if overflow := len(s.reports) - s.limit; overflow > 0 {
		s.reports = append(s.reports[:0:0], s.reports[overflow:]...)
	}
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Report, len(s.reports))
	copy(out, s.reports)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Mode() string { return "in-memory" }

func (s *MemoryStore) Close() error { return nil }
