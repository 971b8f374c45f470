package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter caps client envelopes on one connection at limit per window, with bursts up to limit.
// Account-level HTTP limits live in the ratelimit package; this one never leaves the process.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter falls back to the package limits when inputs are invalid.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
}

// Allow reports whether an envelope received at now may be processed.
func (r *RateLimiter) Allow(now time.Time) bool {
	return r.lim.AllowN(now, 1)
}
