package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// English design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Counter updates (login failure/success) run under a row lock or as a single UPDATE, never read-modify-write.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	t      pgTables
}

type pgTables struct {
	accounts, credentials, history, roles, permissions, rolePerms, accountRoles, vtokens string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "trustcore").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "trustcore"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	st.t = pgTables{
		accounts:     pgIdent(st.schema, "accounts"),
		credentials:  pgIdent(st.schema, "credentials"),
		history:      pgIdent(st.schema, "credential_history"),
		roles:        pgIdent(st.schema, "roles"),
		permissions:  pgIdent(st.schema, "permissions"),
		rolePerms:    pgIdent(st.schema, "role_permissions"),
		accountRoles: pgIdent(st.schema, "account_roles"),
		vtokens:      pgIdent(st.schema, "verification_tokens"),
	}
	return st, nil
}

const accountCols = `id, uuid, email, email_norm, phone, display_name,
	status, failed_attempts, locked_until, password_changed_at,
	email_verified, phone_verified, biometric_enabled, mfa_enabled,
	last_login_at, created_at, updated_at, deleted_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	var status string
	err := row.Scan(
		&a.ID, &a.UUID, &a.Email, &a.EmailNorm, &a.Phone, &a.DisplayName,
		&status, &a.FailedAttempts, &a.LockedUntil, &a.PasswordChangedAt,
		&a.EmailVerified, &a.PhoneVerified, &a.BiometricEnabled, &a.MFAEnabled,
		&a.LastLoginAt, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		return Account{}, err
	}
	a.Status = Status(status)
	return a, nil
}

// CreateAccount inserts the account, its credential, the first history entry and its roles in one tx.
func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"

	email := strings.TrimSpace(in.Email)
	if email == "" || !ValidEmail(NormalizeEmail(email)) {
		return Account{}, pgInvalid(op, "valid email is required")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return Account{}, pgInvalid(op, "password hash is required")
	}
	var phone *string
	if in.Phone != nil {
		if p := NormalizePhone(*in.Phone); p != "" {
			phone = &p
		}
	}
	now := nowOr(in.Now)
	roles := in.Roles
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Account{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := scanAccount(tx.QueryRow(ctx,
		`INSERT INTO `+s.t.accounts+` (
		     uuid, email, email_norm, phone, display_name, status, password_changed_at, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6, $6)
		   RETURNING `+accountCols,
		uuid.New(), email, NormalizeEmail(email), phone, pgTrimPtr(in.DisplayName), now,
	))
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t.credentials+` (account_id, password_hash, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
		acc.ID, in.PasswordHash, now,
	); err != nil {
		return Account{}, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t.history+` (account_id, password_hash, created_at) VALUES ($1, $2, $3)`,
		acc.ID, in.PasswordHash, now,
	); err != nil {
		return Account{}, err
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO `+s.t.accountRoles+` (account_id, role_id)
		 SELECT $1, id FROM `+s.t.roles+` WHERE name = ANY($2)`,
		acc.ID, roles,
	)
	if err != nil {
		return Account{}, err
	}
	if int(tag.RowsAffected()) != len(dedupe(roles)) {
		return Account{}, NotFoundError{Op: op, Resource: "role"}
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (s *PostgresStore) getAccount(ctx context.Context, op, where string, arg any) (Account, error) {
	acc, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM `+s.t.accounts+` WHERE `+where+` AND deleted_at IS NULL`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return acc, err
}

// GetAccountByID looks up a live account by internal key.
func (s *PostgresStore) GetAccountByID(ctx context.Context, id int64) (Account, error) {
	return s.getAccount(ctx, "identity.GetAccountByID", "id = $1", id)
}

// GetAccountByUUID looks up a live account by external id.
func (s *PostgresStore) GetAccountByUUID(ctx context.Context, id uuid.UUID) (Account, error) {
	return s.getAccount(ctx, "identity.GetAccountByUUID", "uuid = $1", id)
}

// GetAccountByEmail looks up a live account by normalized email.
func (s *PostgresStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	return s.getAccount(ctx, "identity.GetAccountByEmail", "email_norm = $1", NormalizeEmail(email))
}

// GetAccountByPhone looks up a live account by normalized phone.
func (s *PostgresStore) GetAccountByPhone(ctx context.Context, phone string) (Account, error) {
	return s.getAccount(ctx, "identity.GetAccountByPhone", "phone = $1", NormalizePhone(phone))
}

// PasswordHash returns the current credential hash for a live account.
func (s *PostgresStore) PasswordHash(ctx context.Context, accountID int64) (string, error) {
	const op = "identity.PasswordHash"

	var h string
	err := s.pool.QueryRow(ctx,
		`SELECT c.password_hash FROM `+s.t.credentials+` c
		   JOIN `+s.t.accounts+` a ON a.id = c.account_id
		  WHERE c.account_id = $1 AND a.deleted_at IS NULL`,
		accountID,
	).Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", NotFoundError{Op: op, Resource: "credential"}
	}
	return h, err
}

// PasswordHistory returns up to limit historical hashes, newest first.
func (s *PostgresStore) PasswordHistory(ctx context.Context, accountID int64, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT password_hash FROM `+s.t.history+`
		  WHERE account_id = $1
		  ORDER BY created_at DESC, id DESC
		  LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SetPassword replaces the credential, appends + trims history, and optionally consumes a token.
func (s *PostgresStore) SetPassword(ctx context.Context, in SetPasswordInput) error {
	const op = "identity.SetPassword"

	if strings.TrimSpace(in.Hash) == "" {
		return pgInvalid(op, "hash is required")
	}
	limit := in.HistoryLimit
	if limit <= 0 {
		limit = 1
	}
	now := nowOr(in.Now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock serializes concurrent password changes for the same account.
	var id int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM `+s.t.accounts+` WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		in.AccountID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return err
	}

	if in.ConsumeToken != nil {
		var owner int64
		err := tx.QueryRow(ctx,
			`UPDATE `+s.t.vtokens+`
			    SET used = true, used_at = $3
			  WHERE token_hash = $1 AND purpose = $2 AND NOT used AND expires_at > $3
			  RETURNING account_id`,
			in.ConsumeToken.Hash, string(in.ConsumeToken.Purpose), now,
		).Scan(&owner)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != in.AccountID) {
			return tokenNotUsable(op)
		}
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.t.credentials+` SET password_hash = $2, updated_at = $3 WHERE account_id = $1`,
		in.AccountID, in.Hash, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t.history+` (account_id, password_hash, created_at) VALUES ($1, $2, $3)`,
		in.AccountID, in.Hash, now,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM `+s.t.history+`
		  WHERE account_id = $1
		    AND id NOT IN (
		      SELECT id FROM `+s.t.history+`
		       WHERE account_id = $1
		       ORDER BY created_at DESC, id DESC
		       LIMIT $2)`,
		in.AccountID, limit,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE `+s.t.accounts+` SET password_changed_at = $2, updated_at = $2 WHERE id = $1`,
		in.AccountID, now,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecordLoginFailure increments the failure counter under a row lock and locks at the threshold.
// An elapsed lock is cleared first so the counter restarts from zero.
func (s *PostgresStore) RecordLoginFailure(ctx context.Context, in LoginFailureInput) (Account, error) {
	const op = "identity.RecordLoginFailure"

	if in.Threshold <= 0 || in.LockFor <= 0 {
		return Account{}, pgInvalid(op, "threshold and lock duration must be positive")
	}
	now := nowOr(in.Now)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Account{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acc, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountCols+` FROM `+s.t.accounts+` WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		in.AccountID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return Account{}, err
	}

	next := applyLoginFailure(acc, in.Threshold, in.LockFor, now)

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.t.accounts+`
		    SET failed_attempts = $2, status = $3, locked_until = $4, updated_at = $5
		  WHERE id = $1`,
		acc.ID, next.FailedAttempts, string(next.Status), next.LockedUntil, now,
	); err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return next, nil
}

// applyLoginFailure is the pure transition shared by the Postgres and memory stores.
func applyLoginFailure(acc Account, threshold int, lockFor time.Duration, now time.Time) Account {
	if acc.LockExpired(now) {
		acc.Status = unlockedStatus(acc)
		acc.FailedAttempts = 0
		acc.LockedUntil = nil
	}
	if acc.IsLocked(now) {
		return acc
	}
	acc.FailedAttempts++
	if acc.FailedAttempts >= threshold {
		until := now.Add(lockFor)
		acc.Status = StatusLocked
		acc.LockedUntil = &until
	}
	acc.UpdatedAt = now
	return acc
}

func unlockedStatus(acc Account) Status {
	if acc.EmailVerified {
		return StatusActive
	}
	return StatusPending
}

// RecordLoginSuccess resets the counter, clears an expired lock and records last_login_at in one statement.
// A lock that is still open makes the UPDATE match nothing; the row is then re-read to tell
// ErrLocked apart from a missing account.
func (s *PostgresStore) RecordLoginSuccess(ctx context.Context, accountID int64, now time.Time) error {
	const op = "identity.RecordLoginSuccess"

	now = nowOr(now)
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t.accounts+`
		    SET failed_attempts = 0,
		        locked_until = NULL,
		        status = CASE WHEN status = 'locked'
		                      THEN CASE WHEN email_verified THEN 'active' ELSE 'pending' END
		                      ELSE status END,
		        last_login_at = $2,
		        updated_at = $2
		  WHERE id = $1 AND deleted_at IS NULL
		    AND NOT (status = 'locked' AND locked_until > $2)`,
		accountID, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.t.accounts+` WHERE id = $1 AND deleted_at IS NULL)`,
		accountID,
	).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return OpError{Op: op, Kind: ErrLocked, Msg: "lock window open"}
	}
	return NotFoundError{Op: op, Resource: "account"}
}

// MarkEmailVerified sets email_verified and activates a pending account.
func (s *PostgresStore) MarkEmailVerified(ctx context.Context, accountID int64, now time.Time) (Account, error) {
	const op = "identity.MarkEmailVerified"

	acc, err := scanAccount(s.pool.QueryRow(ctx,
		`UPDATE `+s.t.accounts+`
		    SET email_verified = true,
		        status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
		        updated_at = $2
		  WHERE id = $1 AND deleted_at IS NULL
		  RETURNING `+accountCols,
		accountID, nowOr(now),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return acc, err
}

func (s *PostgresStore) execAccount(ctx context.Context, op, set string, args ...any) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.t.accounts+` SET `+set+` WHERE id = $1 AND deleted_at IS NULL`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

// MarkPhoneVerified sets phone_verified.
func (s *PostgresStore) MarkPhoneVerified(ctx context.Context, accountID int64, now time.Time) error {
	return s.execAccount(ctx, "identity.MarkPhoneVerified",
		`phone_verified = true, updated_at = $2`, accountID, nowOr(now))
}

// SetBiometricEnabled toggles the biometric flag.
func (s *PostgresStore) SetBiometricEnabled(ctx context.Context, accountID int64, enabled bool, now time.Time) error {
	return s.execAccount(ctx, "identity.SetBiometricEnabled",
		`biometric_enabled = $2, updated_at = $3`, accountID, enabled, nowOr(now))
}

// SetMFASecret stores the sealed TOTP secret (nil clears it) and the enabled flag.
func (s *PostgresStore) SetMFASecret(ctx context.Context, accountID int64, sealed *string, enabled bool, now time.Time) error {
	return s.execAccount(ctx, "identity.SetMFASecret",
		`mfa_secret_sealed = $2, mfa_enabled = $3, updated_at = $4`, accountID, sealed, enabled, nowOr(now))
}

// MFASecret returns the sealed TOTP secret ("" when none) and whether MFA is enforced.
func (s *PostgresStore) MFASecret(ctx context.Context, accountID int64) (string, bool, error) {
	const op = "identity.MFASecret"

	var sealed *string
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT mfa_secret_sealed, mfa_enabled FROM `+s.t.accounts+` WHERE id = $1 AND deleted_at IS NULL`,
		accountID,
	).Scan(&sealed, &enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, NotFoundError{Op: op, Resource: "account"}
	}
	if err != nil {
		return "", false, err
	}
	if sealed == nil {
		return "", enabled, nil
	}
	return *sealed, enabled, nil
}

// SoftDelete marks the account deleted; it disappears from every lookup.
func (s *PostgresStore) SoftDelete(ctx context.Context, accountID int64, now time.Time) error {
	now = nowOr(now)
	return s.execAccount(ctx, "identity.SoftDelete",
		`status = 'deleted', deleted_at = $2, locked_until = NULL, updated_at = $2`, accountID, now)
}

// Grants returns role names and the union of their permissions, both sorted.
func (s *PostgresStore) Grants(ctx context.Context, accountID int64) (Grants, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.name FROM `+s.t.accountRoles+` ar
		   JOIN `+s.t.roles+` r ON r.id = ar.role_id
		  WHERE ar.account_id = $1
		  ORDER BY r.name`,
		accountID,
	)
	if err != nil {
		return Grants{}, err
	}
	roles, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Grants{}, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT DISTINCT p.name FROM `+s.t.accountRoles+` ar
		   JOIN `+s.t.rolePerms+` rp ON rp.role_id = ar.role_id
		   JOIN `+s.t.permissions+` p ON p.id = rp.permission_id
		  WHERE ar.account_id = $1
		  ORDER BY p.name`,
		accountID,
	)
	if err != nil {
		return Grants{}, err
	}
	perms, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Grants{}, err
	}
	return Grants{Roles: roles, Permissions: perms}, nil
}

// CreateVerificationToken stores a hashed verification token.
func (s *PostgresStore) CreateVerificationToken(ctx context.Context, in VerificationTokenInput) error {
	const op = "identity.CreateVerificationToken"

	if !in.Purpose.Valid() {
		return pgInvalid(op, "unknown purpose")
	}
	if len(in.Hash) != 64 {
		return pgInvalid(op, "token hash must be 64 hex chars")
	}
	now := nowOr(in.Now)
	if !in.ExpiresAt.After(now) {
		return pgInvalid(op, "expiry must be in the future")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if in.InvalidatePrior {
		if _, err := tx.Exec(ctx,
			`UPDATE `+s.t.vtokens+` SET used = true, used_at = $3
			  WHERE account_id = $1 AND purpose = $2 AND NOT used`,
			in.AccountID, string(in.Purpose), now,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.t.vtokens+` (account_id, purpose, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		in.AccountID, string(in.Purpose), in.Hash, in.ExpiresAt, now,
	); err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return NotFoundError{Op: op, Resource: "account"}
		}
		return err
	}
	return tx.Commit(ctx)
}

// PeekVerificationToken resolves a usable token to its live account without consuming it.
func (s *PostgresStore) PeekVerificationToken(ctx context.Context, ref TokenRef, now time.Time) (int64, error) {
	const op = "identity.PeekVerificationToken"

	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT v.account_id FROM `+s.t.vtokens+` v
		   JOIN `+s.t.accounts+` a ON a.id = v.account_id
		  WHERE v.token_hash = $1 AND v.purpose = $2 AND NOT v.used AND v.expires_at > $3
		    AND a.deleted_at IS NULL`,
		ref.Hash, string(ref.Purpose), nowOr(now),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, tokenNotUsable(op)
	}
	return id, err
}

// ConsumeVerificationToken marks a usable token used in a single conditional UPDATE.
// A concurrent second presentation finds used=true and fails.
func (s *PostgresStore) ConsumeVerificationToken(ctx context.Context, ref TokenRef, now time.Time) (int64, error) {
	const op = "identity.ConsumeVerificationToken"

	var id int64
	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.t.vtokens+`
		    SET used = true, used_at = $3
		  WHERE token_hash = $1 AND purpose = $2 AND NOT used AND expires_at > $3
		  RETURNING account_id`,
		ref.Hash, string(ref.Purpose), nowOr(now),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, tokenNotUsable(op)
	}
	return id, err
}

// ---- helpers ----

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// pgTrimPtr trims a string pointer, returning nil if result is empty.
func pgTrimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// English comment:
	// Prefer stable schema constraint names. Fall back to heuristic substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_accounts_email_norm":
		return "email", true
	case "uq_accounts_phone":
		return "phone", true
	case "uq_accounts_uuid":
		return "uuid", true
	case "uq_verification_tokens_hash":
		return "token", true
	}
	switch {
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "phone"):
		return "phone", true
	default:
		return "unique", true
	}
}
