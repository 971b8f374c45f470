package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/security/password"
	"trustcore/cmd/security/token"
)

// Revoker revokes every session of an account. session.Registry satisfies it.
type Revoker interface {
	RevokeAll(ctx context.Context, accountID int64, reason string, now time.Time) (int64, error)
}

// Guard applies lockout, reuse and single-use token policy over an identity.Store.
type Guard struct {
	cfg      Config
	store    identity.Store
	pw       password.Config
	hasher   token.Hasher
	sessions Revoker
	log      *slog.Logger

	// dummyHash equalizes timing between unknown and known accounts.
	dummyHash string
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

// New constructs a Guard. It hashes one dummy password up front, which costs one
// bcrypt round at startup.
func New(cfg Config, store identity.Store, pw password.Config, hasher token.Hasher, sessions Revoker, opts ...Option) (*Guard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || sessions == nil {
		return nil, ErrConfig
	}
	dummy, err := pw.Hash("trustcore-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("guard: dummy hash: %w", err)
	}
	g := &Guard{
		cfg:       cfg,
		store:     store,
		pw:        pw,
		hasher:    hasher,
		sessions:  sessions,
		log:       slog.Default(),
		dummyHash: dummy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Config returns the active policy.
func (g *Guard) Config() Config { return g.cfg }

// Authenticate checks an email/password pair against the lockout state machine.
//
// Security contract:
// - Unknown email and wrong password both yield ErrInvalidCredentials.
// - Inside a lock window every attempt yields ErrAccountLocked, even with the right password.
// - It does not record success; callers finish any second factor first and then call RecordSuccess.
func (g *Guard) Authenticate(ctx context.Context, email, plain string, now time.Time) (identity.Account, error) {
	acc, err := g.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			_, _ = g.pw.Verify(g.dummyHash, plain)
			return identity.Account{}, &CredentialError{Kind: ErrInvalidCredentials}
		}
		return identity.Account{}, err
	}

	if acc.IsLocked(now) {
		_, _ = g.pw.Verify(g.dummyHash, plain)
		return identity.Account{}, &CredentialError{Kind: ErrAccountLocked, AccountID: acc.ID, LockedUntil: acc.LockedUntil}
	}
	if !acc.CanSignIn(now) {
		_, _ = g.pw.Verify(g.dummyHash, plain)
		return identity.Account{}, &CredentialError{Kind: ErrInvalidCredentials, AccountID: acc.ID}
	}

	hash, err := g.store.PasswordHash(ctx, acc.ID)
	if err != nil {
		return identity.Account{}, err
	}
	ok, err := g.pw.Verify(hash, plain)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return identity.Account{}, err
	}
	if !ok {
		return identity.Account{}, g.RecordFailure(ctx, acc.ID, now)
	}
	return acc, nil
}

// RecordFailure counts one failed sign-in (bad password or bad second factor).
// It always returns a *CredentialError; on the threshold-crossing failure every
// session of the account is revoked.
func (g *Guard) RecordFailure(ctx context.Context, accountID int64, now time.Time) error {
	acc, err := g.store.RecordLoginFailure(ctx, identity.LoginFailureInput{
		AccountID: accountID,
		Threshold: g.cfg.LockoutThreshold,
		LockFor:   g.cfg.LockoutDuration,
		Now:       now,
	})
	if err != nil {
		return err
	}

	ce := &CredentialError{Kind: ErrInvalidCredentials, AccountID: accountID}
	if acc.IsLocked(now) {
		ce.LockedNow = true
		ce.LockedUntil = acc.LockedUntil
		g.log.Warn("guard.lockout", "account_id", accountID, "until", acc.LockedUntil)
		if _, err := g.sessions.RevokeAll(ctx, accountID, session.ReasonLockout, now); err != nil {
			g.log.Error("guard.lockout.revoke_failed", "account_id", accountID, "err", err)
		}
	}
	return ce
}

// RecordSuccess resets the failure counter, clears any expired lock and stamps last login.
// A lock taken by concurrent failures after Authenticate passed still wins: the reset is
// refused and the caller gets ErrAccountLocked.
func (g *Guard) RecordSuccess(ctx context.Context, accountID int64, now time.Time) error {
	err := g.store.RecordLoginSuccess(ctx, accountID, now)
	if err == nil || !identity.IsLocked(err) {
		return err
	}
	ce := &CredentialError{Kind: ErrAccountLocked, AccountID: accountID}
	if acc, gerr := g.store.GetAccountByID(ctx, accountID); gerr == nil {
		ce.LockedUntil = acc.LockedUntil
	}
	return ce
}

// ConfirmPassword re-checks the password of a signed-in account before a sensitive action.
// A mismatch is a *CredentialError but is not counted toward lockout: the caller already
// holds a session, and the HTTP limiter bounds the guessing rate.
func (g *Guard) ConfirmPassword(ctx context.Context, accountID int64, plain string) error {
	hash, err := g.store.PasswordHash(ctx, accountID)
	if err != nil {
		return err
	}
	ok, err := g.pw.Verify(hash, plain)
	if err != nil && !errors.Is(err, password.ErrInvalidHash) {
		return err
	}
	if !ok {
		return &CredentialError{Kind: ErrInvalidCredentials, AccountID: accountID}
	}
	return nil
}

// HashNew validates policy and hashes a password for a brand new account.
func (g *Guard) HashNew(plain string) (string, error) {
	if err := g.pw.Validate(plain); err != nil {
		return "", err
	}
	return g.pw.Hash(plain)
}

// checkReuse rejects plain if it matches any of the last N hashes.
func (g *Guard) checkReuse(ctx context.Context, accountID int64, plain string) error {
	history, err := g.store.PasswordHistory(ctx, accountID, g.cfg.HistoryDepth)
	if err != nil {
		return err
	}
	for _, h := range history {
		ok, err := g.pw.Verify(h, plain)
		if err != nil {
			// A malformed historical hash cannot match; keep checking the rest.
			continue
		}
		if ok {
			return ErrPasswordReused
		}
	}
	return nil
}

// ChangePassword replaces the credential after checking the current one, then revokes every session.
func (g *Guard) ChangePassword(ctx context.Context, accountID int64, current, next string, now time.Time) error {
	if err := g.ConfirmPassword(ctx, accountID, current); err != nil {
		return err
	}
	if err := g.setPassword(ctx, accountID, next, nil, now); err != nil {
		return err
	}
	if _, err := g.sessions.RevokeAll(ctx, accountID, session.ReasonPasswordChange, now); err != nil {
		return err
	}
	return nil
}

func (g *Guard) setPassword(ctx context.Context, accountID int64, next string, consume *identity.TokenRef, now time.Time) error {
	if err := g.pw.Validate(next); err != nil {
		return err
	}
	if err := g.checkReuse(ctx, accountID, next); err != nil {
		return err
	}
	hash, err := g.pw.Hash(next)
	if err != nil {
		return err
	}
	err = g.store.SetPassword(ctx, identity.SetPasswordInput{
		AccountID:    accountID,
		Hash:         hash,
		HistoryLimit: g.cfg.HistoryDepth,
		ConsumeToken: consume,
		Now:          now,
	})
	if consume != nil && identity.IsNotActive(err) {
		return ErrInvalidToken
	}
	return err
}

// IssueEmailVerification creates a fresh email verification secret, invalidating earlier ones.
// Only the digest is stored; the returned secret goes to the mailer.
func (g *Guard) IssueEmailVerification(ctx context.Context, accountID int64, now time.Time) (string, error) {
	return g.issue(ctx, accountID, identity.PurposeEmailVerify, g.cfg.EmailVerifyTTL, now)
}

// VerifyEmail consumes a verification secret and activates a pending account.
func (g *Guard) VerifyEmail(ctx context.Context, secret string, now time.Time) (identity.Account, error) {
	id, err := g.store.ConsumeVerificationToken(ctx, identity.TokenRef{
		Purpose: identity.PurposeEmailVerify,
		Hash:    g.hasher.Hash(secret),
	}, now)
	if err != nil {
		if identity.IsNotActive(err) || identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return identity.Account{}, ErrInvalidToken
		}
		return identity.Account{}, err
	}
	return g.store.MarkEmailVerified(ctx, id, now)
}

// RequestPasswordReset issues a reset secret for email. Unknown or unusable accounts
// return ok=false with no error so callers can answer generically.
func (g *Guard) RequestPasswordReset(ctx context.Context, email string, now time.Time) (acc identity.Account, secret string, ok bool, err error) {
	acc, err = g.store.GetAccountByEmail(ctx, email)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return identity.Account{}, "", false, nil
		}
		return identity.Account{}, "", false, err
	}
	switch acc.Status {
	case identity.StatusDisabled, identity.StatusDeleted:
		return identity.Account{}, "", false, nil
	}
	secret, err = g.issue(ctx, acc.ID, identity.PurposePasswordReset, g.cfg.PasswordResetTTL, now)
	if err != nil {
		return identity.Account{}, "", false, err
	}
	return acc, secret, true, nil
}

// ResetPassword consumes a reset secret and sets a new password, then revokes every session.
// A reused password leaves the secret unconsumed so the user can retry.
func (g *Guard) ResetPassword(ctx context.Context, secret, next string, now time.Time) (int64, error) {
	ref := identity.TokenRef{Purpose: identity.PurposePasswordReset, Hash: g.hasher.Hash(secret)}

	accountID, err := g.store.PeekVerificationToken(ctx, ref, now)
	if err != nil {
		if identity.IsNotActive(err) || identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return 0, ErrInvalidToken
		}
		return 0, err
	}

	if err := g.setPassword(ctx, accountID, next, &ref, now); err != nil {
		return 0, err
	}
	if _, err := g.sessions.RevokeAll(ctx, accountID, session.ReasonPasswordReset, now); err != nil {
		return 0, err
	}
	return accountID, nil
}

func (g *Guard) issue(ctx context.Context, accountID int64, purpose identity.TokenPurpose, ttl time.Duration, now time.Time) (string, error) {
	secret, err := token.NewSecret()
	if err != nil {
		return "", err
	}
	err = g.store.CreateVerificationToken(ctx, identity.VerificationTokenInput{
		AccountID:       accountID,
		Purpose:         purpose,
		Hash:            g.hasher.Hash(secret),
		ExpiresAt:       now.Add(ttl),
		InvalidatePrior: true,
		Now:             now,
	})
	if err != nil {
		return "", err
	}
	return secret, nil
}
