package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRolePermissions mirrors the seed rows of the accounts migration.
var DefaultRolePermissions = map[string][]string{
	"USER":    {"biometric:manage", "profile:read", "profile:write", "sessions:manage"},
	"SUPPORT": {"accounts:read", "audit:read", "profile:read"},
	"ADMIN": {
		"accounts:read", "accounts:write", "audit:read", "biometric:manage",
		"profile:read", "profile:write", "sessions:manage",
	},
}

// MemoryStore is a dev-only Store used when no database is configured, and by tests.
// One mutex guards everything, which makes every method trivially atomic.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	byID     map[int64]*memAccount
	tokens   map[string]*memToken // token hash -> token
	rolePerm map[string][]string
}

type memAccount struct {
	acc       Account
	hash      string
	history   []string // newest first
	roles     []string
	mfaSealed string
}

type memToken struct {
	accountID int64
	purpose   TokenPurpose
	expiresAt time.Time
	used      bool
}

// NewMemoryStore constructs an empty MemoryStore seeded with DefaultRolePermissions.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[int64]*memAccount),
		tokens:   make(map[string]*memToken),
		rolePerm: DefaultRolePermissions,
	}
}

func (s *MemoryStore) live(op string, id int64) (*memAccount, error) {
	m, ok := s.byID[id]
	if !ok || m.acc.DeletedAt != nil {
		return nil, NotFoundError{Op: op, Resource: "account"}
	}
	return m, nil
}

func (s *MemoryStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.CreateAccount"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	norm := NormalizeEmail(in.Email)
	if !ValidEmail(norm) {
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
	roles := dedupe(in.Roles)
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range roles {
		if _, ok := s.rolePerm[r]; !ok {
			return Account{}, NotFoundError{Op: op, Resource: "role"}
		}
	}
	// Uniqueness mirrors the table constraints, which also cover soft-deleted rows.
	for _, m := range s.byID {
		if m.acc.EmailNorm == norm {
			return Account{}, ConflictError{Op: op, Field: "email"}
		}
		if phone != nil && m.acc.Phone != nil && *m.acc.Phone == *phone {
			return Account{}, ConflictError{Op: op, Field: "phone"}
		}
	}

	s.nextID++
	changed := now
	acc := Account{
		ID:                s.nextID,
		UUID:              uuid.New(),
		Email:             strings.TrimSpace(in.Email),
		EmailNorm:         norm,
		Phone:             phone,
		DisplayName:       pgTrimPtr(in.DisplayName),
		Status:            StatusPending,
		PasswordChangedAt: &changed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.byID[acc.ID] = &memAccount{
		acc:     acc,
		hash:    in.PasswordHash,
		history: []string{in.PasswordHash},
		roles:   roles,
	}
	return acc, nil
}

func (s *MemoryStore) find(op string, match func(Account) bool) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byID {
		if m.acc.DeletedAt == nil && match(m.acc) {
			return m.acc, nil
		}
	}
	return Account{}, NotFoundError{Op: op, Resource: "account"}
}

func (s *MemoryStore) GetAccountByID(_ context.Context, id int64) (Account, error) {
	return s.find("identity.GetAccountByID", func(a Account) bool { return a.ID == id })
}

func (s *MemoryStore) GetAccountByUUID(_ context.Context, id uuid.UUID) (Account, error) {
	return s.find("identity.GetAccountByUUID", func(a Account) bool { return a.UUID == id })
}

func (s *MemoryStore) GetAccountByEmail(_ context.Context, email string) (Account, error) {
	norm := NormalizeEmail(email)
	return s.find("identity.GetAccountByEmail", func(a Account) bool { return a.EmailNorm == norm })
}

func (s *MemoryStore) GetAccountByPhone(_ context.Context, phone string) (Account, error) {
	norm := NormalizePhone(phone)
	return s.find("identity.GetAccountByPhone", func(a Account) bool { return a.Phone != nil && *a.Phone == norm })
}

func (s *MemoryStore) PasswordHash(_ context.Context, accountID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.live("identity.PasswordHash", accountID)
	if err != nil {
		return "", err
	}
	return m.hash, nil
}

func (s *MemoryStore) PasswordHistory(_ context.Context, accountID int64, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[accountID]
	if !ok || limit <= 0 {
		return nil, nil
	}
	n := min(limit, len(m.history))
	return append([]string(nil), m.history[:n]...), nil
}

func (s *MemoryStore) SetPassword(_ context.Context, in SetPasswordInput) error {
	const op = "identity.SetPassword"
	if strings.TrimSpace(in.Hash) == "" {
		return pgInvalid(op, "hash is required")
	}
	now := nowOr(in.Now)
	limit := max(in.HistoryLimit, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.live(op, in.AccountID)
	if err != nil {
		return err
	}
	if in.ConsumeToken != nil {
		t, ok := s.tokens[in.ConsumeToken.Hash]
		if !ok || !t.usable(in.ConsumeToken.Purpose, now) || t.accountID != in.AccountID {
			return tokenNotUsable(op)
		}
		t.used = true
	}

	m.hash = in.Hash
	m.history = append([]string{in.Hash}, m.history...)
	if len(m.history) > limit {
		m.history = m.history[:limit]
	}
	m.acc.PasswordChangedAt = &now
	m.acc.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RecordLoginFailure(_ context.Context, in LoginFailureInput) (Account, error) {
	const op = "identity.RecordLoginFailure"
	if in.Threshold <= 0 || in.LockFor <= 0 {
		return Account{}, pgInvalid(op, "threshold and lock duration must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.live(op, in.AccountID)
	if err != nil {
		return Account{}, err
	}
	m.acc = applyLoginFailure(m.acc, in.Threshold, in.LockFor, nowOr(in.Now))
	return m.acc, nil
}

func (s *MemoryStore) RecordLoginSuccess(_ context.Context, accountID int64, now time.Time) error {
	now = nowOr(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "identity.RecordLoginSuccess"
	m, err := s.live(op, accountID)
	if err != nil {
		return err
	}
	if m.acc.IsLocked(now) {
		return OpError{Op: op, Kind: ErrLocked, Msg: "lock window open"}
	}
	if m.acc.Status == StatusLocked {
		m.acc.Status = unlockedStatus(m.acc)
	}
	m.acc.FailedAttempts = 0
	m.acc.LockedUntil = nil
	m.acc.LastLoginAt = &now
	m.acc.UpdatedAt = now
	return nil
}

func (s *MemoryStore) update(op string, id int64, fn func(m *memAccount)) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.live(op, id)
	if err != nil {
		return Account{}, err
	}
	fn(m)
	return m.acc, nil
}

func (s *MemoryStore) MarkEmailVerified(_ context.Context, accountID int64, now time.Time) (Account, error) {
	return s.update("identity.MarkEmailVerified", accountID, func(m *memAccount) {
		m.acc.EmailVerified = true
		if m.acc.Status == StatusPending {
			m.acc.Status = StatusActive
		}
		m.acc.UpdatedAt = nowOr(now)
	})
}

func (s *MemoryStore) MarkPhoneVerified(_ context.Context, accountID int64, now time.Time) error {
	_, err := s.update("identity.MarkPhoneVerified", accountID, func(m *memAccount) {
		m.acc.PhoneVerified = true
		m.acc.UpdatedAt = nowOr(now)
	})
	return err
}

func (s *MemoryStore) SetBiometricEnabled(_ context.Context, accountID int64, enabled bool, now time.Time) error {
	_, err := s.update("identity.SetBiometricEnabled", accountID, func(m *memAccount) {
		m.acc.BiometricEnabled = enabled
		m.acc.UpdatedAt = nowOr(now)
	})
	return err
}

func (s *MemoryStore) SetMFASecret(_ context.Context, accountID int64, sealed *string, enabled bool, now time.Time) error {
	_, err := s.update("identity.SetMFASecret", accountID, func(m *memAccount) {
		m.mfaSealed = ""
		if sealed != nil {
			m.mfaSealed = *sealed
		}
		m.acc.MFAEnabled = enabled
		m.acc.UpdatedAt = nowOr(now)
	})
	return err
}

func (s *MemoryStore) MFASecret(_ context.Context, accountID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.live("identity.MFASecret", accountID)
	if err != nil {
		return "", false, err
	}
	return m.mfaSealed, m.acc.MFAEnabled, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, accountID int64, now time.Time) error {
	_, err := s.update("identity.SoftDelete", accountID, func(m *memAccount) {
		now := nowOr(now)
		m.acc.Status = StatusDeleted
		m.acc.DeletedAt = &now
		m.acc.LockedUntil = nil
		m.acc.UpdatedAt = now
	})
	return err
}

func (s *MemoryStore) Grants(_ context.Context, accountID int64) (Grants, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[accountID]
	if !ok {
		return Grants{}, nil
	}
	roles := append([]string(nil), m.roles...)
	sort.Strings(roles)
	set := map[string]struct{}{}
	for _, r := range roles {
		for _, p := range s.rolePerm[r] {
			set[p] = struct{}{}
		}
	}
	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return Grants{Roles: roles, Permissions: perms}, nil
}

func (t *memToken) usable(p TokenPurpose, now time.Time) bool {
	return !t.used && t.purpose == p && now.Before(t.expiresAt)
}

func (s *MemoryStore) CreateVerificationToken(_ context.Context, in VerificationTokenInput) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[in.AccountID]; !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	if _, dup := s.tokens[in.Hash]; dup {
		return ConflictError{Op: op, Field: "token"}
	}
	if in.InvalidatePrior {
		for _, t := range s.tokens {
			if t.accountID == in.AccountID && t.purpose == in.Purpose {
				t.used = true
			}
		}
	}
	s.tokens[in.Hash] = &memToken{accountID: in.AccountID, purpose: in.Purpose, expiresAt: in.ExpiresAt}
	return nil
}

func (s *MemoryStore) PeekVerificationToken(_ context.Context, ref TokenRef, now time.Time) (int64, error) {
	const op = "identity.PeekVerificationToken"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[ref.Hash]
	if !ok || !t.usable(ref.Purpose, nowOr(now)) {
		return 0, tokenNotUsable(op)
	}
	if _, err := s.live(op, t.accountID); err != nil {
		return 0, tokenNotUsable(op)
	}
	return t.accountID, nil
}

func (s *MemoryStore) ConsumeVerificationToken(_ context.Context, ref TokenRef, now time.Time) (int64, error) {
	const op = "identity.ConsumeVerificationToken"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[ref.Hash]
	if !ok || !t.usable(ref.Purpose, nowOr(now)) {
		return 0, tokenNotUsable(op)
	}
	t.used = true
	return t.accountID, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
