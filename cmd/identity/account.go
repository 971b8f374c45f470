package identity

import (
	"time"

	"github.com/google/uuid"
)

// Status is the account lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusLocked   Status = "locked"
	StatusDisabled Status = "disabled"
	StatusDeleted  Status = "deleted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusLocked, StatusDisabled, StatusDeleted:
		return true
	}
	return false
}

// Default role assigned on registration.
const RoleUser = "USER"

// Account is trustcore's canonical security principal.
// ID is the internal key and never leaves the process; UUID is the external subject.
type Account struct {
	ID          int64
	UUID        uuid.UUID
	Email       string
	EmailNorm   string
	Phone       *string
	DisplayName *string

	Status            Status
	FailedAttempts    int
	LockedUntil       *time.Time
	PasswordChangedAt *time.Time

	EmailVerified    bool
	PhoneVerified    bool
	BiometricEnabled bool
	MFAEnabled       bool

	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// IsLocked reports whether the account is inside an unexpired lock window at now.
func (a Account) IsLocked(now time.Time) bool {
	return a.Status == StatusLocked && a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

// LockExpired reports whether the account carries a lock whose window has elapsed.
func (a Account) LockExpired(now time.Time) bool {
	return a.Status == StatusLocked && (a.LockedUntil == nil || !now.Before(*a.LockedUntil))
}

// CanSignIn reports whether credentials may be checked for this account at now.
// Pending accounts may sign in; refresh requires active (see session.Registry).
func (a Account) CanSignIn(now time.Time) bool {
	switch a.Status {
	case StatusActive, StatusPending:
		return true
	case StatusLocked:
		return a.LockExpired(now)
	}
	return false
}

// Grants is the flattened authority set embedded into access tokens.
type Grants struct {
	Roles       []string
	Permissions []string
}

// TokenPurpose separates verification token namespaces.
type TokenPurpose string

const (
	PurposeEmailVerify   TokenPurpose = "email_verify"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// Valid reports whether p is a known purpose.
func (p TokenPurpose) Valid() bool {
	return p == PurposeEmailVerify || p == PurposePasswordReset
}

// CreateAccountInput describes a registration.
// PasswordHash is already hashed by the caller; the store never sees plaintext.
type CreateAccountInput struct {
	Email        string
	Phone        *string
	DisplayName  *string
	PasswordHash string
	Roles        []string
	Now          time.Time
}

// LoginFailureInput records one failed credential check.
type LoginFailureInput struct {
	AccountID int64
	Threshold int
	LockFor   time.Duration
	Now       time.Time
}

// SetPasswordInput replaces the current credential.
//
// Security contract:
//   - The new hash is appended to history and history is trimmed to HistoryLimit entries.
//   - When ConsumeToken is set, the token is marked used in the same transaction; if it is
//     no longer usable nothing is written.
type SetPasswordInput struct {
	AccountID    int64
	Hash         string
	HistoryLimit int
	ConsumeToken *TokenRef
	Now          time.Time
}

// TokenRef identifies a verification token by purpose and hash.
type TokenRef struct {
	Purpose TokenPurpose
	Hash    string
}

// VerificationTokenInput issues a verification token.
// When InvalidatePrior is set, earlier unused tokens for the same account+purpose are marked used.
type VerificationTokenInput struct {
	AccountID       int64
	Purpose         TokenPurpose
	Hash            string
	ExpiresAt       time.Time
	InvalidatePrior bool
	Now             time.Time
}
