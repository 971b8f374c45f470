package tokens

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is the umbrella kind; every verification failure wraps it.
	ErrInvalidToken = errors.New("invalid token")

	ErrExpired      = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrBadSignature = fmt.Errorf("%w: bad signature", ErrInvalidToken)
	ErrMalformed    = fmt.Errorf("%w: malformed", ErrInvalidToken)
	ErrBadClaims    = fmt.Errorf("%w: bad claims", ErrInvalidToken)

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("tokens: invalid config")
)
