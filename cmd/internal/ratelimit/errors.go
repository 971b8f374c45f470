package ratelimit

import "errors"

var (
	// ErrConfig reports an invalid or unparsable configuration.
	ErrConfig = errors.New("ratelimit: invalid config")
	// ErrInvalidKey reports an empty counter key or non-positive limit.
	ErrInvalidKey = errors.New("ratelimit: invalid key")
)
