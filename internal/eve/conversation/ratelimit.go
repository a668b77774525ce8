package conversation

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the maximum number of model-forwarded messages
	// allowed per sender per window when no explicit limit is configured.
	DefaultRateLimit = 20

	// defaultRateLimitWindow is the sliding window duration.
	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-sender sliding-window limit on completion
// calls, bounding token spend per user. Trigger-handled messages are not
// counted; only model forwarding is.
//
// It keeps the call timestamps for each sender within the current window
// and prunes stale entries on every Allow call, so memory stays bounded to
// O(limit) entries per active sender.
//
// RateLimiter is safe for concurrent use from multiple goroutines.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	counters map[string][]time.Time // sender → call timestamps in window

	// now is injectable for tests.
	now func() time.Time
}

// NewRateLimiter returns a RateLimiter that allows at most limit calls per
// sender within window.
//
// If limit ≤ 0 it defaults to DefaultRateLimit.
// If window ≤ 0 it defaults to one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		counters: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether the sender may make another completion call and
// records the current timestamp when it may.
func (r *RateLimiter) Allow(sender string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	existing := r.counters[sender]
	valid := existing[:0] // reuse backing array
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= r.limit {
		r.counters[sender] = valid
		return false
	}

	r.counters[sender] = append(valid, now)
	return true
}

// Remaining returns the number of calls the sender can still make within
// the current window.
func (r *RateLimiter) Remaining(sender string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.window)
	count := 0
	for _, t := range r.counters[sender] {
		if t.After(cutoff) {
			count++
		}
	}
	if rem := r.limit - count; rem > 0 {
		return rem
	}
	return 0
}
