package token

import "errors"

// Public, stable errors for callers.
var (
	ErrPepperTooShort = errors.New("token hash pepper too short")
	ErrEntropy        = errors.New("token entropy source failed")
)
