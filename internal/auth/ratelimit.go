package auth

import (
	"sync"
	"time"
)

// RateLimiter tracks request timestamps per key within a sliding
// window, in memory. Entries outside the window are dropped on each
// check, so memory stays bounded by active keys.
type RateLimiter struct {
	mu       sync.Mutex
	max      int
	window   time.Duration
	attempts map[string][]time.Time
}

func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:      max,
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Allow records an attempt for key and reports whether it is within
// the limit. When denied, retryAfter is how long until the oldest
// in-window attempt expires.
func (rl *RateLimiter) Allow(key string, now time.Time) (allowed bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	recent := rl.attempts[key][:0]
	for _, at := range rl.attempts[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= rl.max {
		rl.attempts[key] = recent
		return false, recent[0].Sub(cutoff)
	}

	rl.attempts[key] = append(recent, now)
	return true, 0
}

// Reset clears the recorded attempts for a key
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}
