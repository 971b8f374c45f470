package authn

import (
	"context"
	"errors"
	"time"

	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/internal/notify"
)

// ListSessions returns the caller's live device sessions, flagging the current one.
func (s *Service) ListSessions(ctx context.Context, p Principal) ([]session.DeviceSession, error) {
	return s.sessions.ListDevices(ctx, p.AccountID, p.DeviceID)
}

// RevokeSession signs one of the caller's devices out.
func (s *Service) RevokeSession(ctx context.Context, p Principal, sessionID int64, meta audit.Meta) error {
	deviceID, err := s.sessions.RevokeSession(ctx, p.AccountID, sessionID, s.now())
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	s.record(audit.ActionSessionRevoke, audit.ResourceSession, p.AccountID, audit.OutcomeSuccess, "", meta,
		map[string]any{"session_id": sessionID, "device_id": deviceID})
	return nil
}

// TrustDevice marks one of the caller's devices as trusted or not.
func (s *Service) TrustDevice(ctx context.Context, p Principal, deviceID string, trusted bool) error {
	if deviceID == "" {
		deviceID = p.DeviceID
	}
	if err := s.sessions.SetTrusted(ctx, p.AccountID, deviceID, trusted); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// DeleteAccount signs every device out and soft-deletes the caller's account.
// The current password is required.
func (s *Service) DeleteAccount(ctx context.Context, p Principal, current string, meta audit.Meta) (err error) {
	ctx, span := s.span(ctx, "DeleteAccount")
	defer func() { endSpan(span, err) }()
	now := s.now()

	acc, err := s.accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		return err
	}
	if err := s.guard.ConfirmPassword(ctx, acc.ID, current); err != nil {
		var ce *guard.CredentialError
		if !errors.As(err, &ce) {
			return err
		}
		s.record(audit.ActionAccountDelete, audit.ResourceAccount, acc.ID, audit.OutcomeFailure, "wrong password", meta, nil)
		return ErrInvalidCredentials
	}

	// Delete first: from here no login finds the account and no refresh rotates, so the
	// revocation below cannot be outrun by a new session.
	if err := s.accounts.SoftDelete(ctx, acc.ID, now); err != nil {
		return err
	}
	s.resolver.Invalidate(acc.UUID)
	if _, err := s.sessions.RevokeAll(ctx, acc.ID, session.ReasonDeletion, now); err != nil {
		s.log.Error("authn.account.delete.revoke_failed", "account_id", acc.ID, "err", err)
	}

	s.record(audit.ActionAccountDelete, audit.ResourceAccount, acc.ID, audit.OutcomeSuccess, "", meta, nil)
	s.alert(acc, notify.AlertAccountDeleted, "your account was deleted", p.DeviceID)
	s.log.Info("authn.account.deleted", "account_id", acc.ID)
	return nil
}

// IssueServiceToken signs a service token for a machine caller.
func (s *Service) IssueServiceToken(name string, perms []string) (tokens.Issued, error) {
	if name == "" {
		return tokens.Issued{}, ErrInvalidInput
	}
	return s.tokens.IssueService(name, perms, s.now())
}

// PurgeExpired drops refresh tokens past the retention window.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.sessions.PurgeExpired(ctx, s.now())
}

// AccessTTL is the lifetime of access tokens.
func (s *Service) AccessTTL() time.Duration { return s.tokens.AccessTTL() }
