package biometric

import (
	"errors"
	"fmt"
)

// ErrBiometricFailure is the single error kind for extraction, liveness and comparison failures.
var ErrBiometricFailure = errors.New("biometric: failure")

var (
	ErrExtraction        = fmt.Errorf("%w: face detection failed", ErrBiometricFailure)
	ErrLiveness          = fmt.Errorf("%w: liveness check failed", ErrBiometricFailure)
	ErrComparison        = fmt.Errorf("%w: comparison failed", ErrBiometricFailure)
	ErrEngineUnavailable = fmt.Errorf("%w: recognition engine unavailable", ErrBiometricFailure)
	ErrAlreadyEnrolled   = fmt.Errorf("%w: already enrolled, remove the existing template first", ErrBiometricFailure)
	ErrNotEnrolled       = fmt.Errorf("%w: no enrollment found", ErrBiometricFailure)
	ErrTemplateCorrupt   = fmt.Errorf("%w: stored template cannot be opened", ErrBiometricFailure)
)

var (
	ErrInvalidInput = errors.New("biometric: invalid input")
	ErrDisabled     = errors.New("biometric: disabled")
	ErrConfig       = errors.New("biometric: invalid config")
)
