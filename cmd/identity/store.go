package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the account/credential persistence boundary.
//
// Lookups exclude soft-deleted accounts and return ErrNotFound for them.
type Store interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)

	GetAccountByID(ctx context.Context, id int64) (Account, error)
	GetAccountByUUID(ctx context.Context, id uuid.UUID) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByPhone(ctx context.Context, phone string) (Account, error)

	// PasswordHash returns the current credential hash.
	PasswordHash(ctx context.Context, accountID int64) (string, error)
	// PasswordHistory returns up to limit historical hashes, newest first.
	PasswordHistory(ctx context.Context, accountID int64, limit int) ([]string, error)
	SetPassword(ctx context.Context, in SetPasswordInput) error

	// RecordLoginFailure atomically increments the counter and locks at the threshold.
	RecordLoginFailure(ctx context.Context, in LoginFailureInput) (Account, error)
	// RecordLoginSuccess atomically resets the counter, clears an expired lock and stamps last_login_at.
	// Inside an unexpired lock window nothing changes and the error kind is ErrLocked.
	RecordLoginSuccess(ctx context.Context, accountID int64, now time.Time) error

	MarkEmailVerified(ctx context.Context, accountID int64, now time.Time) (Account, error)
	MarkPhoneVerified(ctx context.Context, accountID int64, now time.Time) error
	SetBiometricEnabled(ctx context.Context, accountID int64, enabled bool, now time.Time) error
	SetMFASecret(ctx context.Context, accountID int64, sealed *string, enabled bool, now time.Time) error
	MFASecret(ctx context.Context, accountID int64) (sealed string, enabled bool, err error)
	SoftDelete(ctx context.Context, accountID int64, now time.Time) error

	Grants(ctx context.Context, accountID int64) (Grants, error)

	CreateVerificationToken(ctx context.Context, in VerificationTokenInput) error
	// PeekVerificationToken resolves a usable token without consuming it.
	PeekVerificationToken(ctx context.Context, ref TokenRef, now time.Time) (accountID int64, err error)
	// ConsumeVerificationToken marks a usable token used and returns its account.
	ConsumeVerificationToken(ctx context.Context, ref TokenRef, now time.Time) (accountID int64, err error)
}
