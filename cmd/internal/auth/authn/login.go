package authn

import (
	"context"
	"errors"
	"strings"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/notify"
	"trustcore/cmd/internal/otp"
	"trustcore/cmd/security/password"
)

// RegisterInput is a new account request.
type RegisterInput struct {
	Email       string
	Password    string
	Phone       *string
	DisplayName *string
	Device      DeviceInput
}

// Register creates a pending account, mails a verification link and signs the device in.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta audit.Meta) (res AuthResult, err error) {
	ctx, span := s.span(ctx, "Register")
	defer func() { endSpan(span, err) }()
	now := s.now()

	hash, err := s.guard.HashNew(in.Password)
	if err != nil {
		if isPolicyError(err) {
			return AuthResult{}, errors.Join(ErrInvalidInput, err)
		}
		return AuthResult{}, err
	}

	acc, err := s.accounts.CreateAccount(ctx, identity.CreateAccountInput{
		Email:        in.Email,
		Phone:        in.Phone,
		DisplayName:  in.DisplayName,
		PasswordHash: hash,
		Roles:        []string{identity.RoleUser},
		Now:          now,
	})
	if err != nil {
		if identity.IsConflict(err) {
			reason := "duplicate " + identity.ConflictField(err)
			s.record(audit.ActionRegister, audit.ResourceAuth, 0, audit.OutcomeFailure, reason, meta, nil)
			if identity.ConflictField(err) == "email" {
				return AuthResult{}, ErrEmailAlreadyExists
			}
			return AuthResult{}, errors.Join(ErrInvalidInput, err)
		}
		return AuthResult{}, err
	}

	secret, err := s.guard.IssueEmailVerification(ctx, acc.ID, now)
	if err != nil {
		// The account exists; the user can ask for a new link later.
		s.log.Error("authn.register.verify_token.fail", "account_id", acc.ID, "err", err)
	} else {
		s.notify.VerificationEmail(acc.ID, acc.Email, secret)
	}

	res, err = s.issuePair(ctx, acc, s.device(in.Device, meta), now)
	if err != nil {
		return AuthResult{}, err
	}
	s.record(audit.ActionRegister, audit.ResourceAuth, acc.ID, audit.OutcomeSuccess, "", meta, nil)
	s.log.Info("authn.register.ok", "account_id", acc.ID)
	return res, nil
}

// LoginInput is an email/password sign-in, optionally with a TOTP code.
type LoginInput struct {
	Email    string
	Password string
	MFACode  string
	Device   DeviceInput
}

// Login authenticates, enforces lockout and MFA, then signs the device in.
//
// Security contract:
//   - A correct password with a missing MFA code yields ErrMFARequired and does not count
//     as a failure; a wrong code counts like a wrong password.
//   - The failure counter is reset only after every factor passed.
func (s *Service) Login(ctx context.Context, in LoginInput, meta audit.Meta) (res AuthResult, err error) {
	ctx, span := s.span(ctx, "Login")
	defer func() { endSpan(span, err) }()
	now := s.now()

	acc, err := s.guard.Authenticate(ctx, in.Email, in.Password, now)
	if err != nil {
		return AuthResult{}, s.loginRejected(ctx, err, meta)
	}

	if acc.MFAEnabled {
		code := strings.TrimSpace(in.MFACode)
		if code == "" {
			s.metrics.logins.WithLabelValues(outcomeMFARequired).Inc()
			s.record(audit.ActionLogin, audit.ResourceAuth, acc.ID, audit.OutcomeFailure, "mfa required", meta, nil)
			return AuthResult{}, ErrMFARequired
		}
		if err := s.checkTOTP(ctx, acc.ID, otp.TOTPLogin, code, now); err != nil {
			if !totpRejected(err) {
				s.metrics.logins.WithLabelValues(outcomeError).Inc()
				return AuthResult{}, err
			}
			why := "invalid mfa code"
			switch {
			case errors.Is(err, otp.ErrReplayed):
				why = "replayed mfa code"
			case errors.Is(err, ErrOTPExhausted):
				why = "mfa attempts exhausted"
			}
			ferr := s.guard.RecordFailure(ctx, acc.ID, now)
			return AuthResult{}, s.loginRejected(ctx, ferr, meta, why)
		}
	}

	if err := s.guard.RecordSuccess(ctx, acc.ID, now); err != nil {
		return AuthResult{}, s.loginRejected(ctx, err, meta)
	}

	dev := s.device(in.Device, meta)
	known, others := s.knownDevice(ctx, acc.ID, dev.ID)

	res, err = s.issuePair(ctx, acc, dev, now)
	if err != nil {
		s.metrics.logins.WithLabelValues(outcomeError).Inc()
		if errors.Is(err, session.ErrAccountNotActive) {
			return AuthResult{}, ErrInvalidCredentials
		}
		return AuthResult{}, err
	}

	s.metrics.logins.WithLabelValues(outcomeSuccess).Inc()
	s.record(audit.ActionLogin, audit.ResourceAuth, acc.ID, audit.OutcomeSuccess, "", meta,
		map[string]any{"device_id": dev.ID, "new_device": !known})
	if !known && others > 0 {
		s.alert(acc, notify.AlertNewDevice, "new sign-in from "+string(dev.Platform), dev.ID)
	}
	return res, nil
}

// loginRejected audits a credential failure and maps it to an error kind.
func (s *Service) loginRejected(ctx context.Context, err error, meta audit.Meta, reason ...string) error {
	var ce *guard.CredentialError
	if !errors.As(err, &ce) {
		s.metrics.logins.WithLabelValues(outcomeError).Inc()
		return err
	}
	why := "invalid credentials"
	if len(reason) > 0 {
		why = reason[0]
	}

	if errors.Is(ce, guard.ErrAccountLocked) {
		s.metrics.logins.WithLabelValues(outcomeLocked).Inc()
		s.record(audit.ActionLogin, audit.ResourceAuth, ce.AccountID, audit.OutcomeBlocked, "account locked", meta, nil)
		return ce
	}

	s.metrics.logins.WithLabelValues(outcomeInvalid).Inc()
	s.record(audit.ActionLogin, audit.ResourceAuth, ce.AccountID, audit.OutcomeFailure, why, meta, nil)
	if ce.LockedNow {
		s.record(audit.ActionAccountLock, audit.ResourceAccount, ce.AccountID, audit.OutcomeSuccess, "failed attempts", meta, nil)
		if acc, aerr := s.accounts.GetAccountByID(ctx, ce.AccountID); aerr == nil {
			s.alert(acc, notify.AlertLockout, "account locked after repeated failed sign-ins", meta.DeviceID)
		}
	}
	return ce
}

// knownDevice reports whether deviceID has a live session and how many other live devices exist.
func (s *Service) knownDevice(ctx context.Context, accountID int64, deviceID string) (known bool, others int) {
	list, err := s.sessions.ListDevices(ctx, accountID, deviceID)
	if err != nil {
		return true, 0
	}
	for _, d := range list {
		if d.Current {
			known = true
		} else {
			others++
		}
	}
	return known, others
}

// Refresh rotates a refresh token and returns a fresh pair for the same device.
func (s *Service) Refresh(ctx context.Context, presented string, meta audit.Meta) (res AuthResult, err error) {
	ctx, span := s.span(ctx, "Refresh")
	defer func() { endSpan(span, err) }()
	now := s.now()

	rot, err := s.sessions.Rotate(ctx, presented, now)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrRefreshReuseDetected):
			s.record(audit.ActionRefreshReuse, audit.ResourceSession, rot.AccountID, audit.OutcomeBlocked, "rotated token presented again", meta,
				map[string]any{"device_id": rot.DeviceID})
			if acc, aerr := s.accounts.GetAccountByID(ctx, rot.AccountID); aerr == nil {
				s.alert(acc, notify.AlertTokenReuse, "a signed-out session token was used again", rot.DeviceID)
			}
			return AuthResult{}, invalidToken(err)
		case errors.Is(err, session.ErrInvalidToken):
			s.record(audit.ActionRefresh, audit.ResourceSession, 0, audit.OutcomeFailure, "invalid token", meta, nil)
			return AuthResult{}, invalidToken(err)
		}
		return AuthResult{}, err
	}

	acc, err := s.accounts.GetAccountByID(ctx, rot.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			return AuthResult{}, ErrInvalidToken
		}
		return AuthResult{}, err
	}
	grants, err := s.accounts.Grants(ctx, acc.ID)
	if err != nil {
		return AuthResult{}, err
	}
	res, err = s.withAccess(acc, grants, rot.DeviceID, rot.Refresh, now)
	if err != nil {
		return AuthResult{}, err
	}

	dev := session.Device{ID: rot.DeviceID, UserAgent: meta.UserAgent}
	if meta.IP != nil {
		dev.IP = meta.IP.String()
	}
	s.sessions.Touch(ctx, acc.ID, dev, now)
	s.record(audit.ActionRefresh, audit.ResourceSession, acc.ID, audit.OutcomeSuccess, "", meta, nil)
	return res, nil
}

// Logout signs the caller's device out.
func (s *Service) Logout(ctx context.Context, p Principal, meta audit.Meta) error {
	if err := s.sessions.LogoutDevice(ctx, p.AccountID, p.DeviceID, s.now()); err != nil {
		if errors.Is(err, session.ErrDeviceRequired) {
			return ErrInvalidToken
		}
		return err
	}
	s.record(audit.ActionLogout, audit.ResourceSession, p.AccountID, audit.OutcomeSuccess, "", meta,
		map[string]any{"device_id": p.DeviceID})
	return nil
}

// LogoutAll revokes every session of the caller's account, including the current one.
func (s *Service) LogoutAll(ctx context.Context, p Principal, meta audit.Meta) (int64, error) {
	n, err := s.sessions.RevokeAll(ctx, p.AccountID, session.ReasonLogoutAll, s.now())
	if err != nil {
		return 0, err
	}
	s.record(audit.ActionLogoutAll, audit.ResourceSession, p.AccountID, audit.OutcomeSuccess, "", meta,
		map[string]any{"tokens": n})
	if acc, err := s.accounts.GetAccountByID(ctx, p.AccountID); err == nil {
		s.alert(acc, notify.AlertLogoutAll, "signed out of every device", p.DeviceID)
	}
	return n, nil
}

func isPolicyError(err error) bool {
	return errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrWeakPassword)
}
