package http

import (
	"sync"
	"time"
)

// StartRateLimiter bounds call-start attempts per client token over a
// sliding window.
type StartRateLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

func NewStartRateLimiter(limit int, interval time.Duration) *StartRateLimiter {
	return &StartRateLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *StartRateLimiter) Allow(clientToken string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[clientToken]
	fresh := make([]time.Time, 0, len(attempts))
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[clientToken] = fresh
		return false
	}

	fresh = append(fresh, now)
	rl.history[clientToken] = fresh
	return true
}
