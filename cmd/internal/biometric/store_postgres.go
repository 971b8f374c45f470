package biometric

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore implements Store on biometric_templates.
// The partial unique index on (account_id, modality) WHERE active backs ErrAlreadyEnrolled.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore returns a store for schema (default "trustcore").
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "trustcore"
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("biometric: invalid schema identifier")
	}
	if pool == nil {
		return nil, fmt.Errorf("biometric: nil pool")
	}
	return &PostgresStore{pool: pool, table: pgx.Identifier{schema, "biometric_templates"}.Sanitize()}, nil
}

const templateCols = `id, account_id, modality, ciphertext, iv, tag, quality_score, liveness_score,
	active, verification_count, failed_verification_count, last_verified_at, created_at, deactivated_at`

func scanTemplate(row pgx.Row) (Template, error) {
	var (
		t Template
		m string
	)
	err := row.Scan(&t.ID, &t.AccountID, &m, &t.Sealed.Ciphertext, &t.Sealed.IV, &t.Sealed.Tag,
		&t.Quality, &t.Liveness, &t.Active, &t.VerificationCount, &t.FailedVerifications,
		&t.LastVerifiedAt, &t.CreatedAt, &t.DeactivatedAt)
	t.Modality = Modality(m)
	return t, err
}

func (s *PostgresStore) ActiveTemplate(ctx context.Context, accountID int64, m Modality) (Template, error) {
	const op = "biometric.ActiveTemplate"
	t, err := scanTemplate(s.pool.QueryRow(ctx,
		`SELECT `+templateCols+` FROM `+s.table+` WHERE account_id = $1 AND modality = $2 AND active`,
		accountID, string(m)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Template{}, ErrNotEnrolled
	}
	if err != nil {
		return Template{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *PostgresStore) InsertTemplate(ctx context.Context, in Template) (Template, error) {
	const op = "biometric.InsertTemplate"
	created := in.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	t, err := scanTemplate(s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table+` (account_id, modality, ciphertext, iv, tag, quality_score, liveness_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+templateCols,
		in.AccountID, string(in.Modality), in.Sealed.Ciphertext, in.Sealed.IV, in.Sealed.Tag,
		in.Quality, in.Liveness, created))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Template{}, ErrAlreadyEnrolled
		}
		return Template{}, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *PostgresStore) RecordVerification(ctx context.Context, templateID int64, ok bool, now time.Time) error {
	const op = "biometric.RecordVerification"
	q := `UPDATE ` + s.table + ` SET failed_verification_count = failed_verification_count + 1 WHERE id = $1`
	args := []any{templateID}
	if ok {
		q = `UPDATE ` + s.table + ` SET verification_count = verification_count + 1, last_verified_at = $2 WHERE id = $1`
		args = append(args, now)
	}
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotEnrolled
	}
	return nil
}

func (s *PostgresStore) Deactivate(ctx context.Context, accountID int64, m Modality, now time.Time) (bool, error) {
	const op = "biometric.Deactivate"
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table+` SET active = false, deactivated_at = $3 WHERE account_id = $1 AND modality = $2 AND active`,
		accountID, string(m), now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return tag.RowsAffected() > 0, nil
}
