package biometric

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/audit"
	"trustcore/cmd/security/aead"
)

// fakeEngine maps samples to embeddings and scores similarity by equality.
type fakeEngine struct {
	liveness   float64
	similarity float64
	extractErr error
	compareErr error
	lastA      []byte
}

func (f *fakeEngine) Extract(_ context.Context, sample string) (Extraction, error) {
	if f.extractErr != nil {
		return Extraction{}, f.extractErr
	}
	return Extraction{Embedding: []byte("vec:" + sample), Liveness: f.liveness, Quality: 0.7}, nil
}

func (f *fakeEngine) Compare(_ context.Context, a, b []byte) (float64, error) {
	if f.compareErr != nil {
		return 0, f.compareErr
	}
	f.lastA = bytes.Clone(a)
	return f.similarity, nil
}

func (f *fakeEngine) Health(context.Context) error { return nil }

type fixture struct {
	v        *Verifier
	store    *MemoryStore
	accounts *identity.MemoryStore
	engine   *fakeEngine
	audit    *audit.Memory
	id       int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	accounts := identity.NewMemoryStore()
	acc, err := accounts.CreateAccount(context.Background(), identity.CreateAccountInput{
		Email:        "face@example.com",
		PasswordHash: "x",
		Roles:        []string{identity.RoleUser},
		Now:          time.Now().UTC(),
	})
	require.NoError(t, err)

	key := bytes.Repeat([]byte{7}, aead.KeySize)
	sealer, err := aead.New(key)
	require.NoError(t, err)

	store := NewMemoryStore()
	eng := &fakeEngine{liveness: 0.95, similarity: 0.9}
	rec := &audit.Memory{}
	v, err := NewVerifier(DefaultConfig(), store, eng, sealer, accounts,
		WithAudit(rec), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return fixture{v: v, store: store, accounts: accounts, engine: eng, audit: rec, id: acc.ID}
}

func (f fixture) account(t *testing.T) identity.Account {
	t.Helper()
	acc, err := f.accounts.GetAccountByID(context.Background(), f.id)
	require.NoError(t, err)
	return acc
}

func TestVerifier_EnrollStoresOnlySealedTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.v.Enroll(ctx, f.id, ModalityFace, "sample-1", audit.Meta{})
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.True(t, res.LivenessVerified)
	assert.True(t, f.account(t).BiometricEnabled)

	rows := f.store.All()
	require.Len(t, rows, 1)
	assert.Len(t, rows[0].Sealed.IV, aead.IVSize)
	assert.Len(t, rows[0].Sealed.Tag, aead.TagSize)
	assert.False(t, bytes.Contains(rows[0].Sealed.Ciphertext, []byte("vec:sample-1")))

	ok, err := f.v.IsEnrolled(ctx, f.id, ModalityFace)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, f.audit.Find(audit.ActionBiometricEnroll, audit.OutcomeSuccess), 1)
}

func TestVerifier_EnrollRejectsDuplicateAndLowLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.liveness = 0.5
	_, err := f.v.Enroll(ctx, f.id, ModalityFace, "s", audit.Meta{})
	require.ErrorIs(t, err, ErrLiveness)
	require.ErrorIs(t, err, ErrBiometricFailure)
	assert.Empty(t, f.store.All())
	assert.False(t, f.account(t).BiometricEnabled)

	f.engine.liveness = 0.95
	_, err = f.v.Enroll(ctx, f.id, ModalityFace, "s", audit.Meta{})
	require.NoError(t, err)
	_, err = f.v.Enroll(ctx, f.id, ModalityFace, "s2", audit.Meta{})
	require.ErrorIs(t, err, ErrAlreadyEnrolled)

	assert.Len(t, f.audit.Find(audit.ActionBiometricEnroll, audit.OutcomeFailure), 2)
}

func TestVerifier_VerifyThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.v.Enroll(ctx, f.id, ModalityFace, "enrolled", audit.Meta{})
	require.NoError(t, err)

	f.engine.similarity = 0.85
	res, err := f.v.Verify(ctx, f.id, ModalityFace, "probe", audit.Meta{})
	require.NoError(t, err)
	assert.True(t, res.Verified, "threshold is inclusive")
	assert.Equal(t, []byte("vec:enrolled"), f.engine.lastA, "the decrypted template reaches the engine")

	f.engine.similarity = 0.84
	f.engine.liveness = 0.2
	res, err = f.v.Verify(ctx, f.id, ModalityFace, "probe", audit.Meta{})
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.False(t, res.LivenessVerified)

	row := f.store.All()[0]
	assert.Equal(t, 1, row.VerificationCount)
	assert.Equal(t, 1, row.FailedVerifications)
	require.NotNil(t, row.LastVerifiedAt)

	assert.Len(t, f.audit.Find(audit.ActionBiometricVerify, audit.OutcomeSuccess), 1)
	assert.Len(t, f.audit.Find(audit.ActionBiometricVerify, audit.OutcomeFailure), 1)
}

func TestVerifier_VerifyFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.v.Verify(ctx, f.id, ModalityFace, "probe", audit.Meta{})
	require.ErrorIs(t, err, ErrNotEnrolled)

	_, err = f.v.Enroll(ctx, f.id, ModalityFace, "enrolled", audit.Meta{})
	require.NoError(t, err)

	f.engine.extractErr = ErrExtraction
	_, err = f.v.Verify(ctx, f.id, ModalityFace, "probe", audit.Meta{})
	require.ErrorIs(t, err, ErrExtraction)

	f.engine.extractErr = nil
	f.engine.compareErr = ErrEngineUnavailable
	_, err = f.v.Verify(ctx, f.id, ModalityFace, "probe", audit.Meta{})
	require.ErrorIs(t, err, ErrEngineUnavailable)

	assert.Equal(t, 2, f.store.All()[0].FailedVerifications)
	assert.Len(t, f.audit.Find(audit.ActionBiometricVerify, audit.OutcomeFailure), 3)
}

func TestVerifier_TemplateBoundToAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.v.Enroll(ctx, f.id, ModalityFace, "enrolled", audit.Meta{})
	require.NoError(t, err)

	// Copy the sealed row to another account id: the associated data no longer matches.
	row := f.store.All()[0]
	row.AccountID = f.id + 100
	f.store.rows = append(f.store.rows, row)

	_, err = f.v.Verify(ctx, f.id+100, ModalityFace, "probe", audit.Meta{})
	require.ErrorIs(t, err, ErrTemplateCorrupt)
}

func TestVerifier_RemoveSoftDeactivates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.v.Enroll(ctx, f.id, ModalityFace, "enrolled", audit.Meta{})
	require.NoError(t, err)

	require.NoError(t, f.v.Remove(ctx, f.id, ModalityFace, audit.Meta{}))
	assert.False(t, f.account(t).BiometricEnabled)

	rows := f.store.All()
	require.Len(t, rows, 1, "template is kept, not hard-deleted")
	assert.False(t, rows[0].Active)
	require.NotNil(t, rows[0].DeactivatedAt)

	ok, err := f.v.IsEnrolled(ctx, f.id, ModalityFace)
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-enrollment is possible after removal.
	_, err = f.v.Enroll(ctx, f.id, ModalityFace, "again", audit.Meta{})
	require.NoError(t, err)

	require.NoError(t, f.v.Remove(ctx, f.id, ModalityFace, audit.Meta{}))
	require.NoError(t, f.v.Remove(ctx, f.id, ModalityFace, audit.Meta{}))
}

func TestVerifier_InputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.v.Enroll(ctx, f.id, Modality("iris"), "s", audit.Meta{})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.v.Enroll(ctx, f.id, ModalityFace, "  ", audit.Meta{})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewVerifier(DefaultConfig(), nil, f.engine, nil, f.accounts)
	require.ErrorIs(t, err, ErrConfig)
}
