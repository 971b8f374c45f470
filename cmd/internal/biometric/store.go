package biometric

import (
	"context"
	"time"

	"trustcore/cmd/security/aead"
)

// Modality is the biometric kind. One active template per account and modality.
type Modality string

const ModalityFace Modality = "face"

// Valid reports whether m is supported.
func (m Modality) Valid() bool { return m == ModalityFace }

// Template is a stored enrollment. It never holds a plaintext vector.
type Template struct {
	ID                  int64
	AccountID           int64
	Modality            Modality
	Sealed              aead.Sealed
	Quality             float64
	Liveness            float64
	Active              bool
	VerificationCount   int
	FailedVerifications int
	LastVerifiedAt      *time.Time
	CreatedAt           time.Time
	DeactivatedAt       *time.Time
}

// Store persists templates.
type Store interface {
	// ActiveTemplate returns ErrNotEnrolled when no active template exists.
	ActiveTemplate(ctx context.Context, accountID int64, m Modality) (Template, error)
	// InsertTemplate returns ErrAlreadyEnrolled when an active template exists.
	InsertTemplate(ctx context.Context, t Template) (Template, error)
	// RecordVerification bumps the success or failure counter; success stamps last_verified_at.
	RecordVerification(ctx context.Context, templateID int64, ok bool, now time.Time) error
	// Deactivate soft-deletes the active template. It reports whether one existed.
	Deactivate(ctx context.Context, accountID int64, m Modality, now time.Time) (bool, error)
}
