package authn

import (
	"context"
	"errors"

	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/notify"
)

// VerifyEmail consumes an email verification secret and activates the account.
func (s *Service) VerifyEmail(ctx context.Context, secret string, meta audit.Meta) (AccountSummary, error) {
	now := s.now()
	acc, err := s.guard.VerifyEmail(ctx, secret, now)
	if err != nil {
		if errors.Is(err, guard.ErrInvalidToken) {
			s.record(audit.ActionEmailVerify, audit.ResourceAccount, 0, audit.OutcomeFailure, "invalid token", meta, nil)
			return AccountSummary{}, invalidToken(err)
		}
		return AccountSummary{}, err
	}
	grants, err := s.accounts.Grants(ctx, acc.ID)
	if err != nil {
		return AccountSummary{}, err
	}
	s.record(audit.ActionEmailVerify, audit.ResourceAccount, acc.ID, audit.OutcomeSuccess, "", meta, nil)
	return summarize(acc, grants), nil
}

// ResendVerification issues a new verification link for a caller whose email is unverified.
func (s *Service) ResendVerification(ctx context.Context, p Principal) error {
	acc, err := s.accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		return err
	}
	if acc.EmailVerified {
		return nil
	}
	secret, err := s.guard.IssueEmailVerification(ctx, acc.ID, s.now())
	if err != nil {
		return err
	}
	s.notify.VerificationEmail(acc.ID, acc.Email, secret)
	return nil
}

// ForgotPassword mails a reset link when the account exists.
//
// Security contract:
//   - The result never reveals whether the email belongs to an account.
func (s *Service) ForgotPassword(ctx context.Context, email string, meta audit.Meta) error {
	acc, secret, ok, err := s.guard.RequestPasswordReset(ctx, email, s.now())
	if err != nil {
		s.log.Error("authn.forgot_password.fail", "err", err)
		return nil
	}
	if !ok {
		s.record(audit.ActionPasswordForgot, audit.ResourceAccount, 0, audit.OutcomeFailure, "unknown account", meta, nil)
		return nil
	}
	s.notify.PasswordResetEmail(acc.ID, acc.Email, secret)
	s.record(audit.ActionPasswordForgot, audit.ResourceAccount, acc.ID, audit.OutcomeSuccess, "", meta, nil)
	return nil
}

// ResetPassword sets a new password from a reset secret and signs every device out.
func (s *Service) ResetPassword(ctx context.Context, secret, next string, meta audit.Meta) error {
	id, err := s.guard.ResetPassword(ctx, secret, next, s.now())
	if err != nil {
		switch {
		case errors.Is(err, guard.ErrInvalidToken):
			s.record(audit.ActionPasswordReset, audit.ResourceAccount, 0, audit.OutcomeFailure, "invalid token", meta, nil)
			return invalidToken(err)
		case isPolicyError(err):
			return errors.Join(ErrInvalidInput, err)
		}
		return err
	}
	s.record(audit.ActionPasswordReset, audit.ResourceAccount, id, audit.OutcomeSuccess, "", meta, nil)
	if acc, err := s.accounts.GetAccountByID(ctx, id); err == nil {
		s.alert(acc, notify.AlertPasswordReset, "your password was reset", "")
	}
	return nil
}

// ChangePassword replaces the caller's password, revokes every session and signs
// the current device back in.
func (s *Service) ChangePassword(ctx context.Context, p Principal, current, next string, meta audit.Meta) (res AuthResult, err error) {
	ctx, span := s.span(ctx, "ChangePassword")
	defer func() { endSpan(span, err) }()
	now := s.now()

	if err := s.guard.ChangePassword(ctx, p.AccountID, current, next, now); err != nil {
		var ce *guard.CredentialError
		switch {
		case errors.As(err, &ce):
			s.record(audit.ActionPasswordChange, audit.ResourceAccount, p.AccountID, audit.OutcomeFailure, "wrong current password", meta, nil)
			return AuthResult{}, ErrInvalidCredentials
		case errors.Is(err, guard.ErrPasswordReused):
			s.record(audit.ActionPasswordChange, audit.ResourceAccount, p.AccountID, audit.OutcomeFailure, "reused password", meta, nil)
			return AuthResult{}, err
		case isPolicyError(err):
			return AuthResult{}, errors.Join(ErrInvalidInput, err)
		}
		return AuthResult{}, err
	}

	acc, err := s.accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		return AuthResult{}, err
	}
	s.record(audit.ActionPasswordChange, audit.ResourceAccount, acc.ID, audit.OutcomeSuccess, "", meta, nil)
	s.alert(acc, notify.AlertPasswordChange, "your password was changed", p.DeviceID)

	return s.issuePair(ctx, acc, s.device(DeviceInput{ID: p.DeviceID}, meta), now)
}
