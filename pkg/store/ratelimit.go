package store

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-key sliding-window limit: at most MaxRequests
// calls per key within WindowMS. Keys idle for a full window are forgotten.
type RateLimiter struct {
	mu          sync.Mutex
	windows     map[string][]time.Time
	window      time.Duration
	maxRequests int
	lastSweep   time.Time
}

// NewRateLimiter creates a sliding-window limiter. window and maxRequests
// must be positive; invalid values fall back to 1m / 60.
func NewRateLimiter(window time.Duration, maxRequests int) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if maxRequests <= 0 {
		maxRequests = 60
	}
	return &RateLimiter{
		windows:     make(map[string][]time.Time),
		window:      window,
		maxRequests: maxRequests,
		lastSweep:   time.Now(),
	}
}

// Allow records an attempt for key and reports whether it is within the
// window budget. Rejected attempts are not recorded, so a rejected caller
// does not push its own reset further out.
func (r *RateLimiter) Allow(key string) bool {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(now)
	calls := r.pruneLocked(key, now)
	if len(calls) >= r.maxRequests {
		r.windows[key] = calls
		return false
	}
	r.windows[key] = append(calls, now)
	return true
}

// Remaining returns how many calls key may still make in the current window.
func (r *RateLimiter) Remaining(key string) int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := r.pruneLocked(key, now)
	if len(calls) > 0 {
		r.windows[key] = calls
	}
	remaining := r.maxRequests - len(calls)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// MsUntilReset returns how long until the oldest recorded call for key
// leaves the window. Zero when the key has no recorded calls.
func (r *RateLimiter) MsUntilReset(key string) int64 {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := r.pruneLocked(key, now)
	if len(calls) == 0 {
		return 0
	}
	r.windows[key] = calls
	reset := calls[0].Add(r.window).Sub(now)
	if reset < 0 {
		return 0
	}
	return reset.Milliseconds()
}

// pruneLocked drops calls that have left the window. Empty keys are removed
// so idle keys expire after one window of inactivity.
func (r *RateLimiter) pruneLocked(key string, now time.Time) []time.Time {
	calls := r.windows[key]
	cutoff := now.Add(-r.window)
	i := 0
	for ; i < len(calls); i++ {
		if calls[i].After(cutoff) {
			break
		}
	}
	calls = calls[i:]
	if len(calls) == 0 {
		delete(r.windows, key)
	}
	return calls
}

// sweepLocked periodically walks all keys so fully-idle keys do not linger
// beyond one window even when never queried again.
func (r *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(r.lastSweep) < r.window {
		return
	}
	r.lastSweep = now
	for key := range r.windows {
		if calls := r.pruneLocked(key, now); len(calls) > 0 {
			r.windows[key] = calls
		}
	}
}
