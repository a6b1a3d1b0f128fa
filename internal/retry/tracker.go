// Package retry tracks failed deliveries per message id.
package retry

import (
	"math"
	"sync"
	"time"
)

const DefaultMaxAttempts = 3

// Tracker counts failures per message id. The zero value is not usable; use NewTracker.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int
	max    int
}

func NewTracker(maxAttempts int) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Tracker{counts: make(map[string]int), max: maxAttempts}
}

// RecordFailure increments the count for id and returns it. retry is false
// once the count reaches the maximum; the entry is removed at that point so a
// later failure for the same id starts again at 1.
func (t *Tracker) RecordFailure(id string) (attempt int, retry bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	attempt = t.counts[id] + 1
	if attempt >= t.max {
		delete(t.counts, id)
		return attempt, false
	}
	t.counts[id] = attempt
	return attempt, true
}

func (t *Tracker) Clear(id string) {
	t.mu.Lock()
	delete(t.counts, id)
	t.mu.Unlock()
}

// Attempts returns the current count for id, 0 if untracked.
func (t *Tracker) Attempts(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[id]
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}

func (t *Tracker) Max() int { return t.max }

// Backoff is 2^attempt seconds. The tracker never sleeps itself.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}
