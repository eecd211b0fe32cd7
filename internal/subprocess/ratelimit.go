package subprocess

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-agent minimum inter-call interval for the
// optional AI-provider patch-producer adapter (default 60 calls/minute per
// agent). A mutex-guarded last-call map, not a token bucket; bursts are
// never allowed.
type RateLimiter struct {
	mu           sync.Mutex
	minInterval  time.Duration
	lastCallByID map[string]time.Time
	now          func() time.Time
}

// NewRateLimiter returns a limiter enforcing callsPerMinute as a per-agent
// minimum inter-call interval.
func NewRateLimiter(callsPerMinute int) *RateLimiter {
	if callsPerMinute <= 0 {
		callsPerMinute = 60
	}
	return &RateLimiter{
		minInterval:  time.Minute / time.Duration(callsPerMinute),
		lastCallByID: make(map[string]time.Time),
		now:          time.Now,
	}
}

// Wait blocks, if necessary, until agentID may make its next call, then
// records the call time. Callers needing cancellation should race Wait
// against their own context in a goroutine. A lone call waits at most
// minInterval; concurrent calls for one agent queue, each waiting one more
// minInterval than the call reserved before it.
func (r *RateLimiter) Wait(agentID string) time.Duration {
	r.mu.Lock()
	last, seen := r.lastCallByID[agentID]
	now := r.now()
	var wait time.Duration
	if seen {
		elapsed := now.Sub(last)
		if elapsed < r.minInterval {
			wait = r.minInterval - elapsed
		}
	}
	r.lastCallByID[agentID] = now.Add(wait)
	r.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
	return wait
}

// Allow reports whether agentID may call immediately without blocking, and
// if so, reserves the slot as a side effect (same bookkeeping as Wait with a
// zero wait).
func (r *RateLimiter) Allow(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, seen := r.lastCallByID[agentID]
	now := r.now()
	if seen && now.Sub(last) < r.minInterval {
		return false
	}
	r.lastCallByID[agentID] = now
	return true
}
