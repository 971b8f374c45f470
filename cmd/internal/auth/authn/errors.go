package authn

import (
	"errors"
	"fmt"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/biometric"
	"trustcore/cmd/internal/otp"
)

// Error kinds surfaced to callers. Match with errors.Is.
var (
	ErrInvalidCredentials = guard.ErrInvalidCredentials
	ErrAccountLocked      = guard.ErrAccountLocked
	ErrPasswordReused     = guard.ErrPasswordReused
	ErrBiometricFailure   = biometric.ErrBiometricFailure
	ErrOTPExpired         = otp.ErrExpired
	ErrOTPInvalid         = otp.ErrInvalid
	ErrOTPExhausted       = otp.ErrAttemptsExhausted
	ErrInvalidInput       = identity.ErrInvalidInput

	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTooManyRequests    = errors.New("too many requests")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")

	// ErrMFARequired is an InvalidCredentials kind: the password was right but no code was sent.
	ErrMFARequired = fmt.Errorf("%w: mfa code required", guard.ErrInvalidCredentials)
	// ErrMFANotEnrolled is returned when confirming without a pending secret.
	ErrMFANotEnrolled = errors.New("mfa not enrolled")
	// ErrPhoneRequired is returned when an OTP is requested for an account with no phone.
	ErrPhoneRequired = fmt.Errorf("%w: phone number required", identity.ErrInvalidInput)
	// ErrUnavailable is returned when an optional component is not configured.
	ErrUnavailable = errors.New("feature unavailable")
	ErrConfig      = errors.New("authn: invalid config")
)

func invalidToken(err error) error {
	if err == nil || errors.Is(err, ErrInvalidToken) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidToken, err)
}

func tooMany(err error) error {
	return fmt.Errorf("%w: %w", ErrTooManyRequests, err)
}
