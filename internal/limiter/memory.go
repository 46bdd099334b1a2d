package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryWindows is the default, in-process WindowStore: one ordered slice of
// request instants per key, guarded by a single mutex.
type MemoryWindows struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryWindows creates an empty in-memory window store.
func NewMemoryWindows() *MemoryWindows {
	return &MemoryWindows{windows: make(map[string][]time.Time)}
}

func (s *MemoryWindows) Take(_ context.Context, key string, cutoff, now time.Time, limit int) (int, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[key]
	i := 0
	for i < len(w) && w[i].Before(cutoff) {
		i++
	}
	w = w[i:]

	if len(w) >= limit {
		s.windows[key] = w
		return len(w), w[0], false, nil
	}

	w = append(w, now)
	s.windows[key] = w
	return len(w), w[0], true, nil
}

func (s *MemoryWindows) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}
