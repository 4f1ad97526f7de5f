package api

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/llmgate/llmgate/internal/metrics"
)

// RateLimiter enforces a per-identity request rate ahead of the router.
// Limits apply to all requests including cache hits; they protect the
// gateway itself, not just upstream spend.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per
// identity with the given burst.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

// Allow reports whether the identity may proceed.
func (rl *RateLimiter) Allow(identity string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters[identity]
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[identity] = lim
	}
	rl.mu.Unlock()

	if !lim.Allow() {
		metrics.RecordRateLimited(identity)
		return false
	}
	return true
}

// Update applies new rate parameters to current and future limiters.
// Used by config hot reload.
func (rl *RateLimiter) Update(requestsPerMinute, burst int) {
	if burst <= 0 {
		burst = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	rl.burst = burst
	for _, lim := range rl.limiters {
		lim.SetLimit(rl.limit)
		lim.SetBurst(rl.burst)
	}
}
