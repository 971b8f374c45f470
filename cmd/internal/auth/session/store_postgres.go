package session

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

// PostgresStore implements Store using PostgreSQL (refresh_tokens, device_sessions).
//
// Lock order is always account row first, then token rows:
//   - SaveLogin, RevokeDevice, RevokeAccount take the account row FOR UPDATE
//   - Rotate takes it FOR SHARE, then the token row FOR UPDATE
//
// so logout-all and rotation of the same account serialize without deadlocks.
type PostgresStore struct {
	pool     *pgxpool.Pool
	accounts string
	tokens   string
	devices  string
}

// PostgresOption configures the store.
type PostgresOption func(*pgOptions) error

type pgOptions struct{ schema string }

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "trustcore").
func WithSchema(schema string) PostgresOption {
	return func(o *pgOptions) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		o.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
// The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	o := pgOptions{schema: "trustcore"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return &PostgresStore{
		pool:     pool,
		accounts: pgx.Identifier{o.schema, "accounts"}.Sanitize(),
		tokens:   pgx.Identifier{o.schema, "refresh_tokens"}.Sanitize(),
		devices:  pgx.Identifier{o.schema, "device_sessions"}.Sanitize(),
	}, nil
}

const tokenCols = `id, account_id, device_id, token_hash, expires_at, created_at,
	revoked, COALESCE(revoked_reason, ''), revoked_at`

func scanToken(row pgx.Row) (TokenRecord, error) {
	var r TokenRecord
	err := row.Scan(&r.ID, &r.AccountID, &r.DeviceID, &r.TokenHash, &r.ExpiresAt, &r.CreatedAt,
		&r.Revoked, &r.RevokedReason, &r.RevokedAt)
	return r, err
}

// lockAccount locks the account row and returns its status.
// mode is "FOR UPDATE" or "FOR SHARE". Deleted rows report ok=false.
func (s *PostgresStore) lockAccount(ctx context.Context, tx pgx.Tx, accountID int64, mode string) (status string, ok bool, err error) {
	err = tx.QueryRow(ctx,
		`SELECT status FROM `+s.accounts+` WHERE id = $1 AND deleted_at IS NULL `+mode,
		accountID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}

// SaveLogin revokes live tokens of the device, inserts the new token and upserts the device session.
func (s *PostgresStore) SaveLogin(ctx context.Context, in LoginInput) error {
	if in.Token.Hash == "" || in.Device.ID == "" {
		return fmt.Errorf("session: incomplete login input")
	}
	now := nowOr(in.Now)
	platform := ParsePlatform(string(in.Device.Platform))

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		status, ok, err := s.lockAccount(ctx, tx, in.AccountID, "FOR UPDATE")
		if err != nil {
			return err
		}
		if !ok || (status != "active" && status != "pending") {
			return ErrAccountNotActive
		}

		if _, err := tx.Exec(ctx, `
			UPDATE `+s.tokens+`
			SET revoked = true, revoked_reason = $3, revoked_at = $4
			WHERE account_id = $1 AND device_id = $2 AND NOT revoked
		`, in.AccountID, in.Device.ID, ReasonNewLogin, now); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO `+s.tokens+` (account_id, device_id, token_hash, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, in.AccountID, in.Device.ID, in.Token.Hash, in.Token.ExpiresAt, now); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("session: refresh token digest collision: %w", err)
			}
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO `+s.devices+` AS d (
				account_id, device_id, device_name, platform, ip, user_agent, last_active_at, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (account_id, device_id) DO UPDATE SET
				device_name = COALESCE(EXCLUDED.device_name, d.device_name),
				platform = EXCLUDED.platform,
				ip = EXCLUDED.ip,
				user_agent = EXCLUDED.user_agent,
				last_active_at = EXCLUDED.last_active_at,
				revoked = false,
				revoked_at = NULL
		`, in.AccountID, in.Device.ID, nullIfEmpty(in.Device.Name), string(platform),
			nullIfEmpty(in.Device.IP), nullIfEmpty(in.Device.UserAgent), now)
		return err
	})
}

// Rotate exchanges a refresh token under the account share lock and the token row lock.
func (s *PostgresStore) Rotate(ctx context.Context, oldHash string, now time.Time, mint Minter) (TokenRecord, error) {
	now = nowOr(now)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TokenRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := scanToken(tx.QueryRow(ctx, `SELECT `+tokenCols+` FROM `+s.tokens+` WHERE token_hash = $1`, oldHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return TokenRecord{}, ErrInvalidToken
	}
	if err != nil {
		return TokenRecord{}, err
	}

	status, ok, err := s.lockAccount(ctx, tx, rec.AccountID, "FOR SHARE")
	if err != nil {
		return TokenRecord{}, err
	}
	if !ok || status != "active" {
		return TokenRecord{}, ErrInvalidToken
	}

	// Re-read under the row lock: a concurrent rotation or revocation may have committed.
	rec, err = scanToken(tx.QueryRow(ctx, `SELECT `+tokenCols+` FROM `+s.tokens+` WHERE id = $1 FOR UPDATE`, rec.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return TokenRecord{}, ErrInvalidToken
	}
	if err != nil {
		return TokenRecord{}, err
	}
	if rec.Revoked {
		if rec.RevokedReason == ReasonRotated {
			return rec, ErrRefreshReuseDetected
		}
		return TokenRecord{}, ErrInvalidToken
	}
	if !rec.Usable(now) {
		return TokenRecord{}, ErrInvalidToken
	}

	next, err := mint(rec)
	if err != nil {
		return TokenRecord{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.tokens+`
		SET revoked = true, revoked_reason = $2, revoked_at = $3
		WHERE id = $1
	`, rec.ID, ReasonRotated, now); err != nil {
		return TokenRecord{}, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO `+s.tokens+` (account_id, device_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.AccountID, rec.DeviceID, next.Hash, next.ExpiresAt, now); err != nil {
		return TokenRecord{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE `+s.devices+`
		SET last_active_at = $3
		WHERE account_id = $1 AND device_id = $2 AND NOT revoked
	`, rec.AccountID, rec.DeviceID, now); err != nil {
		return TokenRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TokenRecord{}, err
	}
	return rec, nil
}

// revokeScoped revokes tokens and device sessions of an account, optionally for one device.
func (s *PostgresStore) revokeScoped(ctx context.Context, accountID int64, deviceID *string, reason string, now time.Time) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Serializes against Rotate, which holds the same row FOR SHARE.
		if _, _, err := s.lockAccount(ctx, tx, accountID, "FOR UPDATE"); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE `+s.tokens+`
			SET revoked = true, revoked_reason = $3, revoked_at = $4
			WHERE account_id = $1 AND ($2::text IS NULL OR device_id = $2) AND NOT revoked
		`, accountID, deviceID, reason, now)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()

		_, err = tx.Exec(ctx, `
			UPDATE `+s.devices+`
			SET revoked = true, revoked_at = $3
			WHERE account_id = $1 AND ($2::text IS NULL OR device_id = $2) AND NOT revoked
		`, accountID, deviceID, now)
		return err
	})
	return n, err
}

// RevokeDevice revokes one device (idempotent).
func (s *PostgresStore) RevokeDevice(ctx context.Context, accountID int64, deviceID, reason string, now time.Time) error {
	_, err := s.revokeScoped(ctx, accountID, &deviceID, reason, nowOr(now))
	return err
}

// RevokeAccount revokes every token and device session of the account (idempotent).
func (s *PostgresStore) RevokeAccount(ctx context.Context, accountID int64, reason string, now time.Time) (int64, error) {
	return s.revokeScoped(ctx, accountID, nil, reason, nowOr(now))
}

// ListDevices returns live sessions, most recently active first.
func (s *PostgresStore) ListDevices(ctx context.Context, accountID int64) ([]DeviceSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, device_id, COALESCE(device_name, ''), platform,
			COALESCE(ip, ''), COALESCE(user_agent, ''), last_active_at, created_at, is_trusted, revoked
		FROM `+s.devices+`
		WHERE account_id = $1 AND NOT revoked
		ORDER BY last_active_at DESC, id DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DeviceSession, 0, 4)
	for rows.Next() {
		var d DeviceSession
		var platform string
		if err := rows.Scan(&d.ID, &d.AccountID, &d.DeviceID, &d.DeviceName, &platform,
			&d.IP, &d.UserAgent, &d.LastActiveAt, &d.CreatedAt, &d.Trusted, &d.Revoked); err != nil {
			return nil, err
		}
		d.Platform = Platform(platform)
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeviceBySessionID resolves a live session id owned by accountID.
func (s *PostgresStore) DeviceBySessionID(ctx context.Context, accountID, sessionID int64) (string, error) {
	var deviceID string
	err := s.pool.QueryRow(ctx, `
		SELECT device_id FROM `+s.devices+`
		WHERE id = $1 AND account_id = $2 AND NOT revoked
	`, sessionID, accountID).Scan(&deviceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrSessionNotFound
	}
	return deviceID, err
}

// TouchDevice updates last-seen metadata of a live device session.
func (s *PostgresStore) TouchDevice(ctx context.Context, accountID int64, deviceID, ip, userAgent string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.devices+`
		SET last_active_at = $3,
			ip = COALESCE($4, ip),
			user_agent = COALESCE($5, user_agent)
		WHERE account_id = $1 AND device_id = $2 AND NOT revoked
	`, accountID, deviceID, nowOr(now), nullIfEmpty(ip), nullIfEmpty(userAgent))
	return err
}

// SetTrusted flags a live device session.
func (s *PostgresStore) SetTrusted(ctx context.Context, accountID int64, deviceID string, trusted bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.devices+`
		SET is_trusted = $3
		WHERE account_id = $1 AND device_id = $2 AND NOT revoked
	`, accountID, deviceID, trusted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// PurgeExpired deletes token rows expired or revoked before the cutoff.
func (s *PostgresStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.tokens+`
		WHERE expires_at < $1 OR (revoked AND revoked_at < $1)
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isUniqueViolation reports a 23505 error (token hash collision).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
