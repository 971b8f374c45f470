package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when a refresh token is unknown, revoked, expired,
	// or belongs to an account that may not refresh.
	ErrInvalidToken = errors.New("invalid token")

	// ErrRefreshReuseDetected is returned when a token already revoked by rotation is
	// presented again. It wraps ErrInvalidToken so callers that only care about
	// authentication can ignore the distinction.
	ErrRefreshReuseDetected = fmt.Errorf("%w: refresh token reuse detected", ErrInvalidToken)

	// ErrSessionNotFound is returned when a device session does not exist for the account.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAccountNotActive is returned when a login is persisted for an account that
	// became locked or deleted concurrently.
	ErrAccountNotActive = errors.New("account not active")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("session: invalid config")
)
