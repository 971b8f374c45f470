package guard

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned inside an unexpired lock window.
	ErrAccountLocked = errors.New("account locked")
	// ErrPasswordReused is returned when a new password matches recent history.
	ErrPasswordReused = errors.New("password reused")
	// ErrInvalidToken is returned for unknown, used, expired or wrong-purpose secrets.
	ErrInvalidToken = errors.New("invalid token")
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("guard: invalid config")
)

// CredentialError carries audit context for a rejected sign-in.
// Kind is ErrInvalidCredentials or ErrAccountLocked.
type CredentialError struct {
	Kind error
	// AccountID is zero when no account matched.
	AccountID int64
	// LockedNow is set on the failure that crossed the threshold.
	LockedNow   bool
	LockedUntil *time.Time
}

func (e *CredentialError) Error() string {
	if e.LockedUntil != nil && errors.Is(e.Kind, ErrAccountLocked) {
		return fmt.Sprintf("%v until %s", e.Kind, e.LockedUntil.UTC().Format(time.RFC3339))
	}
	return e.Kind.Error()
}

func (e *CredentialError) Unwrap() error { return e.Kind }
