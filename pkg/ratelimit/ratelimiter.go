// Package ratelimit is a per-key sliding window limiter for the HTTP surface.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow = 15 * time.Minute
	DefaultMax    = 5000
)

// RateLimiter allows at most max requests per key in any window.
type RateLimiter struct {
	requests map[string][]time.Time
	lock     sync.Mutex
	window   time.Duration
	max      int
	now      func() time.Time
}

func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMax
	}
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		max:      max,
		now:      time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit.
// Rejected requests are not recorded.
func (rl *RateLimiter) Allow(key string) bool {
	rl.lock.Lock()
	defer rl.lock.Unlock()

	now := rl.now()
	recent := rl.recent(key, now)
	if len(recent) >= rl.max {
		rl.requests[key] = recent
		return false
	}
	rl.requests[key] = append(recent, now)
	return true
}

// Prune drops keys with no requests inside the window.
func (rl *RateLimiter) Prune() {
	rl.lock.Lock()
	defer rl.lock.Unlock()

	now := rl.now()
	for key := range rl.requests {
		if recent := rl.recent(key, now); len(recent) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = recent
		}
	}
}

func (rl *RateLimiter) recent(key string, now time.Time) []time.Time {
	windowStart := now.Add(-rl.window)
	times := rl.requests[key]
	i := 0
	for i < len(times) && !times[i].After(windowStart) {
		i++
	}
	return times[i:]
}
