package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes shared with any other deployment reading the same Redis.
const (
	KeyPrefix      = "rate_limit:"
	LoginKeyPrefix = "rate_limit:login:"
)

// Decision is the outcome of one counted request.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is a fixed-window counter over Redis. Safe for concurrent use.
type Limiter struct {
	rdb    redis.Cmdable
	window time.Duration
}

// NewLimiter returns a Limiter with the given window.
func NewLimiter(rdb redis.Cmdable, window time.Duration) (*Limiter, error) {
	if rdb == nil || window < time.Second {
		return nil, ErrConfig
	}
	return &Limiter{rdb: rdb, window: window}, nil
}

// Allow counts one hit against key and reports whether it fits in limit.
//
// English comment:
//   - INCR and PTTL run in one MULTI so the TTL read belongs to the same counter value.
//   - A counter without expiry (first hit, or a crash between INCR and EXPIRE) gets the
//     window applied, so a key can never pin a client forever.
func (l *Limiter) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	const op = "ratelimit.Allow"

	key = strings.TrimSpace(key)
	if key == "" || limit < 1 {
		return Decision{}, ErrInvalidKey
	}

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	if _, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		pttl = p.PTTL(ctx, key)
		return nil
	}); err != nil {
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	n := incr.Val()
	ttl := pttl.Val()
	if ttl <= 0 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%s: expire: %w", op, err)
		}
		ttl = l.window
	}

	d := Decision{
		Allowed:   n <= int64(limit),
		Limit:     limit,
		Remaining: limit - int(min(n, int64(limit))),
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}
