package otp

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrExpired is returned when no code is outstanding for the key.
	ErrExpired = errors.New("otp expired")
	// ErrInvalid is returned for a mismatching code while attempts remain.
	ErrInvalid = errors.New("otp invalid")
	// ErrAttemptsExhausted is returned once the attempt budget of the current code is spent.
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
	// ErrReplayed is returned for a TOTP code whose time-step was already accepted.
	// It matches ErrInvalid so callers that only know mismatches still reject it.
	ErrReplayed = fmt.Errorf("%w: code already used", ErrInvalid)
	// ErrThrottled is returned when too many codes were requested for one identity.
	ErrThrottled = errors.New("otp send throttled")
	// ErrInvalidPurpose is returned for an unknown purpose or blank identity.
	ErrInvalidPurpose = errors.New("otp: invalid purpose or identity")
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("otp: invalid config")
)

// InvalidCodeError reports a mismatch with the attempts still available.
type InvalidCodeError struct {
	Remaining int
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("%v: %d attempts remaining", ErrInvalid, e.Remaining)
}

func (e *InvalidCodeError) Unwrap() error { return ErrInvalid }

// ThrottledError carries the time until a new code may be requested.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrThrottled, e.RetryAfter)
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }
