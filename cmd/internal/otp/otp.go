package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Purpose namespaces codes so a login code cannot verify a phone number.
type Purpose string

const (
	PurposePhoneVerify     Purpose = "phone_verify"
	PurposeLogin           Purpose = "login"
	PurposeSensitiveAction Purpose = "sensitive_action"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposePhoneVerify, PurposeLogin, PurposeSensitiveAction:
		return true
	}
	return false
}

// Service generates and verifies codes stored in Redis.
//
// Keys:
//   - otp:{purpose}:{identity}           the code, TTL = Config.TTL
//   - otp_attempts:otp:{purpose}:{identity} attempts against the current code
//   - otp_rate:{identity}                codes sent in the current send window
type Service struct {
	rdb  redis.Cmdable
	cfg  Config
	log  *slog.Logger
	rand io.Reader
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRand overrides the entropy source (tests).
func WithRand(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.rand = r
		}
	}
}

// New constructs a Service over any go-redis client.
func New(rdb redis.Cmdable, cfg Config, opts ...Option) (*Service, error) {
	if rdb == nil {
		return nil, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Service{rdb: rdb, cfg: cfg, log: slog.Default(), rand: rand.Reader}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Config returns the active configuration.
func (s *Service) Config() Config { return s.cfg }

func codeKey(purpose Purpose, identity string) string {
	return "otp:" + string(purpose) + ":" + identity
}

func attemptsKey(purpose Purpose, identity string) string {
	return "otp_attempts:" + codeKey(purpose, identity)
}

func rateKey(identity string) string {
	return "otp_rate:" + identity
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Generate stores a fresh code for (purpose, identity), resetting the attempt counter.
// The caller delivers the code; it is never logged.
func (s *Service) Generate(ctx context.Context, identity string, purpose Purpose) (string, error) {
	identity = normalizeIdentity(identity)
	if identity == "" || !purpose.Valid() {
		return "", ErrInvalidPurpose
	}

	if err := s.throttle(ctx, identity); err != nil {
		return "", err
	}

	code, err := s.newCode()
	if err != nil {
		return "", err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, codeKey(purpose, identity), code, s.cfg.TTL)
		p.Del(ctx, attemptsKey(purpose, identity))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("otp: store code: %w", err)
	}

	s.log.Debug("otp.generated", "purpose", purpose)
	return code, nil
}

// throttle counts one send and rejects past SendLimit within SendWindow.
func (s *Service) throttle(ctx context.Context, identity string) error {
	key := rateKey(identity)
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("otp: throttle: %w", err)
	}
	if n == 1 {
		if err := s.rdb.Expire(ctx, key, s.cfg.SendWindow).Err(); err != nil {
			return fmt.Errorf("otp: throttle: %w", err)
		}
	}
	if n > int64(s.cfg.SendLimit) {
		ttl, err := s.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = s.cfg.SendWindow
		}
		return &ThrottledError{RetryAfter: ttl}
	}
	return nil
}

func (s *Service) newCode() (string, error) {
	var b strings.Builder
	b.Grow(s.cfg.Digits)
	ten := big.NewInt(10)
	for range s.cfg.Digits {
		d, err := rand.Int(s.rand, ten)
		if err != nil {
			return "", fmt.Errorf("otp: entropy: %w", err)
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}

// Verify checks code for (purpose, identity).
//
// Results:
//   - nil: success; the code and counter are deleted (one-shot)
//   - *InvalidCodeError: mismatch with attempts remaining
//   - ErrExpired: nothing outstanding
//   - ErrAttemptsExhausted: the budget for this code is spent, even if code is now correct
//
// Every check reserves an attempt with INCR before comparing, so concurrent
// guesses cannot exceed MaxAttempts comparisons.
func (s *Service) Verify(ctx context.Context, identity string, purpose Purpose, code string) error {
	identity = normalizeIdentity(identity)
	if identity == "" || !purpose.Valid() {
		return ErrInvalidPurpose
	}
	ck, ak := codeKey(purpose, identity), attemptsKey(purpose, identity)
	limit := int64(s.cfg.MaxAttempts)

	stored, err := s.rdb.Get(ctx, ck).Result()
	if errors.Is(err, redis.Nil) {
		used, aerr := s.rdb.Get(ctx, ak).Int64()
		if aerr == nil && used >= limit {
			return ErrAttemptsExhausted
		}
		return ErrExpired
	}
	if err != nil {
		return fmt.Errorf("otp: load code: %w", err)
	}

	n, err := s.rdb.Incr(ctx, ak).Result()
	if err != nil {
		return fmt.Errorf("otp: count attempt: %w", err)
	}
	if n == 1 {
		// Counter lives as long as the window it guards.
		_ = s.rdb.Expire(ctx, ak, s.cfg.TTL).Err()
	}
	if n > limit {
		_ = s.rdb.Del(ctx, ck).Err()
		return ErrAttemptsExhausted
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) == 1 {
		deleted, err := s.rdb.Del(ctx, ck).Result()
		if err != nil {
			return fmt.Errorf("otp: consume code: %w", err)
		}
		_ = s.rdb.Del(ctx, ak).Err()
		if deleted == 0 {
			// A concurrent verify consumed it first.
			return ErrExpired
		}
		return nil
	}

	if n >= limit {
		_ = s.rdb.Del(ctx, ck).Err()
		s.log.Info("otp.attempts_exhausted", "purpose", purpose)
		return ErrAttemptsExhausted
	}
	return &InvalidCodeError{Remaining: int(limit - n)}
}
