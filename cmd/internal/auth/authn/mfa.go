package authn

import (
	"context"
	"errors"
	"time"

	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/otp"
)

// TOTPEnrollment is what the client needs to add trustcore to an authenticator app.
type TOTPEnrollment struct {
	Secret string
	URL    string
}

func totpAAD(accountID int64) []byte { return []byte("account:" + itoa(accountID) + "|totp") }

// EnrollTOTP generates and stores a sealed authenticator secret. MFA stays off
// until ConfirmTOTP sees a valid code; a second enroll replaces the pending secret.
func (s *Service) EnrollTOTP(ctx context.Context, p Principal, meta audit.Meta) (TOTPEnrollment, error) {
	if s.otp == nil || s.mfa == nil {
		return TOTPEnrollment{}, ErrUnavailable
	}
	acc, err := s.accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	if acc.MFAEnabled {
		return TOTPEnrollment{}, errors.Join(ErrInvalidInput, errors.New("mfa already enabled"))
	}

	enr, err := s.otp.NewTOTP(acc.Email)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	sealed, err := s.mfa.SealString(enr.Secret, totpAAD(acc.ID))
	if err != nil {
		return TOTPEnrollment{}, err
	}
	if err := s.accounts.SetMFASecret(ctx, acc.ID, &sealed, false, s.now()); err != nil {
		return TOTPEnrollment{}, err
	}
	s.record(audit.ActionMFAEnroll, audit.ResourceAccount, acc.ID, audit.OutcomeSuccess, "", meta, nil)
	return TOTPEnrollment{Secret: enr.Secret, URL: enr.URL}, nil
}

// ConfirmTOTP turns MFA on once the first code from the authenticator checks out.
func (s *Service) ConfirmTOTP(ctx context.Context, p Principal, code string, meta audit.Meta) error {
	if s.otp == nil || s.mfa == nil {
		return ErrUnavailable
	}
	now := s.now()
	sealed, enabled, err := s.accounts.MFASecret(ctx, p.AccountID)
	if err != nil {
		return err
	}
	if sealed == "" {
		return ErrMFANotEnrolled
	}
	if enabled {
		return nil
	}
	secret, err := s.mfa.OpenString(sealed, totpAAD(p.AccountID))
	if err != nil {
		return err
	}
	if err := s.otp.VerifyTOTP(ctx, totpSubject(p.AccountID), otp.TOTPConfirm, secret, code, now); err != nil {
		if !totpRejected(err) {
			return err
		}
		s.record(audit.ActionMFAConfirm, audit.ResourceAccount, p.AccountID, audit.OutcomeFailure, err.Error(), meta, nil)
		return err
	}
	if err := s.accounts.SetMFASecret(ctx, p.AccountID, &sealed, true, now); err != nil {
		return err
	}
	s.record(audit.ActionMFAConfirm, audit.ResourceAccount, p.AccountID, audit.OutcomeSuccess, "", meta, nil)
	return nil
}

// DisableTOTP turns MFA off and drops the secret. A current code is required.
func (s *Service) DisableTOTP(ctx context.Context, p Principal, code string, meta audit.Meta) error {
	if s.otp == nil || s.mfa == nil {
		return ErrUnavailable
	}
	now := s.now()
	if err := s.checkTOTP(ctx, p.AccountID, otp.TOTPDisable, code, now); err != nil {
		if totpRejected(err) {
			s.record(audit.ActionMFAConfirm, audit.ResourceAccount, p.AccountID, audit.OutcomeFailure, "disable: "+err.Error(), meta, nil)
		}
		return err
	}
	if err := s.accounts.SetMFASecret(ctx, p.AccountID, nil, false, now); err != nil {
		return err
	}
	s.record(audit.ActionMFAConfirm, audit.ResourceAccount, p.AccountID, audit.OutcomeSuccess, "disabled", meta, nil)
	return nil
}

func totpSubject(accountID int64) string { return "account:" + itoa(accountID) }

// checkTOTP validates code against the account's enabled secret under the per-use
// attempt budget. Rejections wrap ErrOTPInvalid or ErrOTPExhausted.
func (s *Service) checkTOTP(ctx context.Context, accountID int64, use otp.TOTPUse, code string, now time.Time) error {
	if s.otp == nil || s.mfa == nil {
		return ErrUnavailable
	}
	sealed, enabled, err := s.accounts.MFASecret(ctx, accountID)
	if err != nil {
		return err
	}
	if !enabled || sealed == "" {
		return ErrMFANotEnrolled
	}
	secret, err := s.mfa.OpenString(sealed, totpAAD(accountID))
	if err != nil {
		return err
	}
	return s.otp.VerifyTOTP(ctx, totpSubject(accountID), use, secret, code, now)
}

// totpRejected reports whether err is a verdict on the code rather than an infrastructure failure.
func totpRejected(err error) bool {
	return errors.Is(err, ErrOTPInvalid) || errors.Is(err, ErrOTPExhausted)
}

// SendOTP texts a one-time code to the caller's phone.
func (s *Service) SendOTP(ctx context.Context, p Principal, purpose otp.Purpose, meta audit.Meta) (time.Duration, error) {
	if s.otp == nil {
		return 0, ErrUnavailable
	}
	acc, err := s.accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		return 0, err
	}
	if acc.Phone == nil || *acc.Phone == "" {
		return 0, ErrPhoneRequired
	}

	code, err := s.otp.Generate(ctx, *acc.Phone, purpose)
	if err != nil {
		switch {
		case errors.Is(err, otp.ErrThrottled):
			s.record(audit.ActionOTPSend, audit.ResourceOTP, acc.ID, audit.OutcomeBlocked, "throttled", meta, nil)
			return 0, tooMany(err)
		case errors.Is(err, otp.ErrInvalidPurpose):
			return 0, errors.Join(ErrInvalidInput, err)
		}
		return 0, err
	}
	s.notify.SMS(*acc.Phone, "Your trustcore code is "+code)
	s.record(audit.ActionOTPSend, audit.ResourceOTP, acc.ID, audit.OutcomeSuccess, "", meta,
		map[string]any{"purpose": string(purpose)})
	return s.otp.Config().TTL, nil
}

// VerifyOTP checks a code sent by SendOTP. A phone_verify code marks the phone verified.
func (s *Service) VerifyOTP(ctx context.Context, p Principal, purpose otp.Purpose, code string, meta audit.Meta) error {
	if s.otp == nil {
		return ErrUnavailable
	}
	acc, err := s.accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		return err
	}
	if acc.Phone == nil || *acc.Phone == "" {
		return ErrPhoneRequired
	}

	if err := s.otp.Verify(ctx, *acc.Phone, purpose, code); err != nil {
		if errors.Is(err, otp.ErrInvalidPurpose) {
			return errors.Join(ErrInvalidInput, err)
		}
		s.record(audit.ActionOTPVerify, audit.ResourceOTP, acc.ID, audit.OutcomeFailure, err.Error(), meta,
			map[string]any{"purpose": string(purpose)})
		return err
	}

	if purpose == otp.PurposePhoneVerify {
		if err := s.accounts.MarkPhoneVerified(ctx, acc.ID, s.now()); err != nil {
			return err
		}
	}
	s.record(audit.ActionOTPVerify, audit.ResourceOTP, acc.ID, audit.OutcomeSuccess, "", meta,
		map[string]any{"purpose": string(purpose)})
	return nil
}
