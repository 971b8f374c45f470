package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"trustcore/cmd/identity"
)

// AccountSource reports account status for the memory store.
// identity.Store satisfies it.
type AccountSource interface {
	GetAccountByID(ctx context.Context, id int64) (identity.Account, error)
}

// MemoryStore is a dev-only Store used when no database is configured, and by tests.
// One mutex guards everything, which gives every method the required atomicity.
type MemoryStore struct {
	mu       sync.Mutex
	accounts AccountSource
	nextID   int64
	tokens   map[string]*TokenRecord // digest -> record
	devices  map[deviceKey]*DeviceSession
}

type deviceKey struct {
	accountID int64
	deviceID  string
}

// NewMemoryStore builds a MemoryStore. A nil AccountSource treats every account as active.
func NewMemoryStore(accounts AccountSource) *MemoryStore {
	return &MemoryStore{
		accounts: accounts,
		tokens:   make(map[string]*TokenRecord),
		devices:  make(map[deviceKey]*DeviceSession),
	}
}

func (s *MemoryStore) status(ctx context.Context, accountID int64) (identity.Status, bool) {
	if s.accounts == nil {
		return identity.StatusActive, true
	}
	acc, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil || acc.DeletedAt != nil {
		return "", false
	}
	return acc.Status, true
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) SaveLogin(ctx context.Context, in LoginInput) error {
	st, ok := s.status(ctx, in.AccountID)
	if !ok || (st != identity.StatusActive && st != identity.StatusPending) {
		return ErrAccountNotActive
	}
	now := nowOr(in.Now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tokens[in.Token.Hash]; dup {
		return ErrInvalidToken
	}
	s.revokeLocked(in.AccountID, &in.Device.ID, ReasonNewLogin, now)

	s.tokens[in.Token.Hash] = &TokenRecord{
		ID:        s.id(),
		AccountID: in.AccountID,
		DeviceID:  in.Device.ID,
		TokenHash: in.Token.Hash,
		ExpiresAt: in.Token.ExpiresAt,
		CreatedAt: now,
	}

	k := deviceKey{in.AccountID, in.Device.ID}
	d, ok := s.devices[k]
	if !ok {
		d = &DeviceSession{ID: s.id(), AccountID: in.AccountID, DeviceID: in.Device.ID, CreatedAt: now}
		s.devices[k] = d
	}
	if in.Device.Name != "" {
		d.DeviceName = in.Device.Name
	}
	d.Platform = ParsePlatform(string(in.Device.Platform))
	d.IP = in.Device.IP
	d.UserAgent = in.Device.UserAgent
	d.LastActiveAt = now
	d.Revoked = false
	return nil
}

func (s *MemoryStore) Rotate(ctx context.Context, oldHash string, now time.Time, mint Minter) (TokenRecord, error) {
	now = nowOr(now)

	s.mu.Lock()
	rec, ok := s.tokens[oldHash]
	s.mu.Unlock()
	if !ok {
		return TokenRecord{}, ErrInvalidToken
	}
	// Status lookup happens outside the lock; AccountSource may have its own.
	if st, ok := s.status(ctx, rec.AccountID); !ok || st != identity.StatusActive {
		return TokenRecord{}, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Revoked {
		if rec.RevokedReason == ReasonRotated {
			return *rec, ErrRefreshReuseDetected
		}
		return TokenRecord{}, ErrInvalidToken
	}
	if !rec.Usable(now) {
		return TokenRecord{}, ErrInvalidToken
	}

	next, err := mint(*rec)
	if err != nil {
		return TokenRecord{}, err
	}
	if _, dup := s.tokens[next.Hash]; dup {
		return TokenRecord{}, ErrInvalidToken
	}

	old := *rec
	markRevoked(rec, ReasonRotated, now)
	s.tokens[next.Hash] = &TokenRecord{
		ID:        s.id(),
		AccountID: old.AccountID,
		DeviceID:  old.DeviceID,
		TokenHash: next.Hash,
		ExpiresAt: next.ExpiresAt,
		CreatedAt: now,
	}
	if d, ok := s.devices[deviceKey{old.AccountID, old.DeviceID}]; ok && !d.Revoked {
		d.LastActiveAt = now
	}
	return old, nil
}

func markRevoked(r *TokenRecord, reason string, now time.Time) {
	t := now
	r.Revoked = true
	r.RevokedReason = reason
	r.RevokedAt = &t
}

func (s *MemoryStore) revokeLocked(accountID int64, deviceID *string, reason string, now time.Time) int64 {
	var n int64
	for _, r := range s.tokens {
		if r.AccountID != accountID || r.Revoked {
			continue
		}
		if deviceID != nil && r.DeviceID != *deviceID {
			continue
		}
		markRevoked(r, reason, now)
		n++
	}
	return n
}

func (s *MemoryStore) revokeDevicesLocked(accountID int64, deviceID *string) {
	for k, d := range s.devices {
		if k.accountID != accountID || d.Revoked {
			continue
		}
		if deviceID != nil && k.deviceID != *deviceID {
			continue
		}
		d.Revoked = true
	}
}

func (s *MemoryStore) RevokeDevice(_ context.Context, accountID int64, deviceID, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeLocked(accountID, &deviceID, reason, nowOr(now))
	s.revokeDevicesLocked(accountID, &deviceID)
	return nil
}

func (s *MemoryStore) RevokeAccount(_ context.Context, accountID int64, reason string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.revokeLocked(accountID, nil, reason, nowOr(now))
	s.revokeDevicesLocked(accountID, nil)
	return n, nil
}

func (s *MemoryStore) ListDevices(_ context.Context, accountID int64) ([]DeviceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeviceSession, 0, 4)
	for k, d := range s.devices {
		if k.accountID == accountID && !d.Revoked {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].LastActiveAt.After(out[j].LastActiveAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeviceBySessionID(_ context.Context, accountID, sessionID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, d := range s.devices {
		if d.ID == sessionID && k.accountID == accountID && !d.Revoked {
			return k.deviceID, nil
		}
	}
	return "", ErrSessionNotFound
}

func (s *MemoryStore) TouchDevice(_ context.Context, accountID int64, deviceID, ip, userAgent string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceKey{accountID, deviceID}]
	if !ok || d.Revoked {
		return nil
	}
	d.LastActiveAt = nowOr(now)
	if ip != "" {
		d.IP = ip
	}
	if userAgent != "" {
		d.UserAgent = userAgent
	}
	return nil
}

func (s *MemoryStore) SetTrusted(_ context.Context, accountID int64, deviceID string, trusted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceKey{accountID, deviceID}]
	if !ok || d.Revoked {
		return ErrSessionNotFound
	}
	d.Trusted = trusted
	return nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for h, r := range s.tokens {
		if r.ExpiresAt.Before(before) || (r.Revoked && r.RevokedAt != nil && r.RevokedAt.Before(before)) {
			delete(s.tokens, h)
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemoryStore)(nil)
