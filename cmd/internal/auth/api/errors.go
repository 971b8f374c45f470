package authapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"trustcore/cmd/internal/auth/authn"
	"trustcore/cmd/internal/biometric"
	"trustcore/cmd/internal/otp"
)

// writeServiceError is the single mapping from workflow error kinds to HTTP responses.
// Anything unrecognised is logged and reported as a generic internal error.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status = http.StatusInternalServerError
		body   = errorResponse{Error: apiError{Code: "server_error", Message: "internal error"}}
	)
	set := func(s int, code, msg string) {
		status = s
		body.Error = apiError{Code: code, Message: msg}
	}

	var (
		locked    = errors.Is(err, authn.ErrAccountLocked)
		throttled *otp.ThrottledError
		invalid   *otp.InvalidCodeError
	)
	switch {
	case errors.Is(err, authn.ErrMFARequired):
		set(http.StatusUnauthorized, "mfa_required", "mfa code required")
	case locked:
		set(http.StatusLocked, "account_locked", "account temporarily locked")
	case errors.Is(err, authn.ErrInvalidCredentials):
		set(http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, authn.ErrInvalidToken):
		set(http.StatusUnauthorized, "invalid_token", "invalid or expired token")
	case errors.Is(err, authn.ErrEmailAlreadyExists):
		set(http.StatusConflict, "email_exists", "email already registered")
	case errors.Is(err, authn.ErrPasswordReused):
		set(http.StatusBadRequest, "password_reused", "password was used recently")
	case errors.As(err, &throttled):
		set(http.StatusTooManyRequests, "too_many_requests", "too many codes requested")
		body.RetryAfter = retrySeconds(throttled.RetryAfter)
		w.Header().Set("Retry-After", strconv.FormatInt(body.RetryAfter, 10))
	case errors.Is(err, authn.ErrTooManyRequests):
		set(http.StatusTooManyRequests, "too_many_requests", "too many requests")
	case errors.Is(err, authn.ErrOTPExpired):
		set(http.StatusBadRequest, "otp_expired", "code expired or not requested")
	case errors.Is(err, authn.ErrOTPExhausted):
		set(http.StatusBadRequest, "otp_attempts_exhausted", "too many wrong codes, request a new one")
	case errors.As(err, &invalid):
		set(http.StatusBadRequest, "otp_invalid", "invalid code")
		body.Remaining = &invalid.Remaining
	case errors.Is(err, authn.ErrOTPInvalid):
		set(http.StatusBadRequest, "otp_invalid", "invalid code")
	case errors.Is(err, authn.ErrMFANotEnrolled):
		set(http.StatusBadRequest, "mfa_not_enrolled", "mfa enrollment not started")
	case errors.Is(err, biometric.ErrDisabled), errors.Is(err, authn.ErrUnavailable):
		set(http.StatusServiceUnavailable, "unavailable", "feature not enabled")
	case errors.Is(err, biometric.ErrEngineUnavailable):
		set(http.StatusServiceUnavailable, "biometric_unavailable", "recognition engine unavailable")
	case errors.Is(err, biometric.ErrAlreadyEnrolled):
		set(http.StatusConflict, "biometric_already_enrolled", "biometric already enrolled")
	case errors.Is(err, biometric.ErrNotEnrolled):
		set(http.StatusNotFound, "biometric_not_enrolled", "no biometric enrolled")
	case errors.Is(err, authn.ErrBiometricFailure):
		// Extraction, liveness and template failures share one kind; the message distinguishes them.
		set(http.StatusUnprocessableEntity, "biometric_failure", biometricMessage(err))
	case errors.Is(err, authn.ErrForbidden):
		set(http.StatusForbidden, "forbidden", "forbidden")
	case errors.Is(err, authn.ErrNotFound):
		set(http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, authn.ErrInvalidInput), errors.Is(err, biometric.ErrInvalidInput):
		set(http.StatusBadRequest, "invalid_request", "invalid request")
	default:
		h.log.Error("authapi.request.fail", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, body)
}

func biometricMessage(err error) string {
	switch {
	case errors.Is(err, biometric.ErrExtraction):
		return "no usable face found in sample"
	case errors.Is(err, biometric.ErrLiveness):
		return "liveness check failed"
	case errors.Is(err, biometric.ErrComparison):
		return "comparison failed"
	case errors.Is(err, biometric.ErrTemplateCorrupt):
		return "stored template unusable, enroll again"
	}
	return "biometric failure"
}

func retrySeconds(d time.Duration) int64 {
	s := int64((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
