package otp

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpPeriod = 30

// TOTPUse namespaces the attempt budget, so failed disables do not burn login attempts.
type TOTPUse string

const (
	TOTPLogin   TOTPUse = "login"
	TOTPConfirm TOTPUse = "confirm"
	TOTPDisable TOTPUse = "disable"
)

// TOTPEnrollment is a freshly generated authenticator secret.
// Secret is base32 and must be stored sealed; URL feeds a QR code.
type TOTPEnrollment struct {
	Secret string
	URL    string
}

// NewTOTP generates a TOTP secret labelled with the configured issuer.
func (s *Service) NewTOTP(accountName string) (TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.TOTPIssuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Rand:        s.rand,
	})
	if err != nil {
		return TOTPEnrollment{}, err
	}
	return TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

func totpAttemptsKey(subject string, use TOTPUse) string {
	return "totp_attempts:" + string(use) + ":" + subject
}

func totpUsedKey(subject string, step int64) string {
	return "totp_used:" + subject + ":" + strconv.FormatInt(step, 10)
}

// VerifyTOTP checks a 6 digit SHA1 code for subject (one per account).
//
// Results:
//   - nil: accepted; the time-step is burned and the attempt counter cleared
//   - *InvalidCodeError: mismatch with attempts remaining in the window
//   - ErrReplayed: the code's time-step was already accepted for subject
//   - ErrAttemptsExhausted: TOTPMaxAttempts checks were spent inside TOTPAttemptWindow
//
// The attempt is reserved with INCR before comparing, as Verify does. A burned step
// is shared by every use, so a code accepted at login cannot disable MFA.
func (s *Service) VerifyTOTP(ctx context.Context, subject string, use TOTPUse, secret, code string, now time.Time) error {
	subject = strings.TrimSpace(subject)
	if subject == "" || use == "" {
		return ErrInvalidPurpose
	}
	ak := totpAttemptsKey(subject, use)
	limit := int64(s.cfg.TOTPMaxAttempts)

	n, err := s.rdb.Incr(ctx, ak).Result()
	if err != nil {
		return fmt.Errorf("otp: count totp attempt: %w", err)
	}
	if n == 1 {
		_ = s.rdb.Expire(ctx, ak, s.cfg.TOTPAttemptWindow).Err()
	}
	if n > limit {
		return ErrAttemptsExhausted
	}

	step, ok := s.matchTOTP(strings.TrimSpace(code), secret, now)
	if !ok {
		if n >= limit {
			s.log.Info("otp.totp.attempts_exhausted", "use", use)
			return ErrAttemptsExhausted
		}
		return &InvalidCodeError{Remaining: int(limit - n)}
	}

	// A step stays valid for at most (2*skew+1) periods; the marker outlives that.
	keep := time.Duration(2*s.cfg.TOTPSkew+2) * totpPeriod * time.Second
	fresh, err := s.rdb.SetNX(ctx, totpUsedKey(subject, step), 1, keep).Result()
	if err != nil {
		return fmt.Errorf("otp: burn totp step: %w", err)
	}
	if !fresh {
		s.log.Warn("otp.totp.replay", "use", use)
		return ErrReplayed
	}
	_ = s.rdb.Del(ctx, ak).Err()
	return nil
}

// matchTOTP returns the time-step whose code equals code, scanning the skew window.
func (s *Service) matchTOTP(code, secret string, now time.Time) (int64, bool) {
	if len(code) != int(otp.DigitsSix) {
		return 0, false
	}
	skew := int64(s.cfg.TOTPSkew)
	base := now.Unix() / totpPeriod
	for off := -skew; off <= skew; off++ {
		step := base + off
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*totpPeriod, 0).UTC(), totp.ValidateOpts{
			Period:    totpPeriod,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true
		}
	}
	return 0, false
}
