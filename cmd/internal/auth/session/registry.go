package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/security/token"
)

// maxPresentedToken bounds inputs before hashing to avoid pathological payloads.
const maxPresentedToken = 4096

// ErrDeviceRequired is returned when a login carries no device id.
var ErrDeviceRequired = errors.New("session: device id required")

// Registry implements the high-level session operations.
//
// It mints refresh tokens through the token service, persists only their digests,
// and performs rotation and revocation through Store under its atomicity contract.
type Registry struct {
	cfg    Config
	store  Store
	tokens *tokens.Manager
	hasher token.Hasher
	log    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg Config, store Store, tm *tokens.Manager, hasher token.Hasher, opts ...Option) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || tm == nil {
		return nil, ErrConfig
	}
	r := &Registry{cfg: cfg, store: store, tokens: tm, hasher: hasher, log: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Rotation is the result of a successful refresh.
type Rotation struct {
	AccountID int64
	Subject   string
	DeviceID  string
	Refresh   tokens.Issued
}

// IssueForLogin revokes any live token of (account, device) and issues a new one.
// subject is the external account id carried in the token.
func (r *Registry) IssueForLogin(ctx context.Context, accountID int64, subject string, dev Device, now time.Time) (tokens.Issued, error) {
	dev.ID = strings.TrimSpace(dev.ID)
	if dev.ID == "" {
		return tokens.Issued{}, ErrDeviceRequired
	}
	dev.Platform = ParsePlatform(string(dev.Platform))

	iss, err := r.tokens.IssueRefreshTTL(subject, dev.ID, r.cfg.refreshTTL(dev), now)
	if err != nil {
		return tokens.Issued{}, err
	}

	err = r.store.SaveLogin(ctx, LoginInput{
		AccountID: accountID,
		Device:    dev,
		Token:     NewToken{Hash: r.hasher.Hash(iss.Token), ExpiresAt: iss.ExpiresAt},
		Now:       now,
	})
	if err != nil {
		return tokens.Issued{}, err
	}
	return iss, nil
}

// Rotate exchanges a presented refresh token for a new one bound to the same device.
//
// Security contract:
// - The presented token must verify, be of type refresh, and match a stored digest.
// - The stored record must be unrevoked and unexpired, and the account active.
// - Every failure is ErrInvalidToken (possibly wrapped). On reuse the Rotation carries only
//   the owning account and device so callers can audit it; no token is returned.
func (r *Registry) Rotate(ctx context.Context, presented string, now time.Time) (Rotation, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" || len(presented) > maxPresentedToken {
		return Rotation{}, ErrInvalidToken
	}

	claims, err := r.tokens.Verify(presented)
	if err != nil || claims.Type != tokens.TypeRefresh {
		return Rotation{}, ErrInvalidToken
	}

	var issued tokens.Issued
	old, err := r.store.Rotate(ctx, r.hasher.Hash(presented), now, func(old TokenRecord) (NewToken, error) {
		if old.DeviceID != claims.DeviceID {
			return NewToken{}, ErrInvalidToken
		}
		// Carry the original lifetime so platform policy survives rotation.
		iss, err := r.tokens.IssueRefreshTTL(claims.Subject, old.DeviceID, old.ExpiresAt.Sub(old.CreatedAt), now)
		if err != nil {
			return NewToken{}, err
		}
		issued = iss
		return NewToken{Hash: r.hasher.Hash(iss.Token), ExpiresAt: iss.ExpiresAt}, nil
	})
	if err != nil {
		if errors.Is(err, ErrRefreshReuseDetected) {
			r.log.Warn("session.refresh.reuse_detected",
				"account_id", old.AccountID,
				"device_id", old.DeviceID,
				"revoke_all", r.cfg.RevokeOnReuse,
			)
			if r.cfg.RevokeOnReuse && old.AccountID != 0 {
				if _, rerr := r.store.RevokeAccount(ctx, old.AccountID, ReasonReuse, now); rerr != nil {
					r.log.Error("session.refresh.reuse_revoke_failed", "account_id", old.AccountID, "err", rerr)
				}
			}
			return Rotation{AccountID: old.AccountID, DeviceID: old.DeviceID}, err
		}
		return Rotation{}, err
	}

	return Rotation{
		AccountID: old.AccountID,
		Subject:   claims.Subject,
		DeviceID:  old.DeviceID,
		Refresh:   issued,
	}, nil
}

// LogoutDevice revokes the device's tokens and marks its session revoked.
func (r *Registry) LogoutDevice(ctx context.Context, accountID int64, deviceID string, now time.Time) error {
	if strings.TrimSpace(deviceID) == "" {
		return ErrDeviceRequired
	}
	return r.store.RevokeDevice(ctx, accountID, deviceID, ReasonLogout, now)
}

// RevokeAll revokes every token and device session of the account in one unit.
// Used by logout-all, password change, lockout and deletion.
func (r *Registry) RevokeAll(ctx context.Context, accountID int64, reason string, now time.Time) (int64, error) {
	if reason == "" {
		reason = ReasonLogoutAll
	}
	n, err := r.store.RevokeAccount(ctx, accountID, reason, now)
	if err != nil {
		return 0, err
	}
	r.log.Info("session.revoke_all", "account_id", accountID, "reason", reason, "tokens", n)
	return n, nil
}

// ListDevices returns live device sessions, most recently active first,
// flagging currentDeviceID as Current.
func (r *Registry) ListDevices(ctx context.Context, accountID int64, currentDeviceID string) ([]DeviceSession, error) {
	list, err := r.store.ListDevices(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Current = currentDeviceID != "" && list[i].DeviceID == currentDeviceID
	}
	return list, nil
}

// RevokeSession revokes one device session by id and returns its device id.
// Sessions owned by other accounts are reported as ErrSessionNotFound.
func (r *Registry) RevokeSession(ctx context.Context, accountID, sessionID int64, now time.Time) (string, error) {
	deviceID, err := r.store.DeviceBySessionID(ctx, accountID, sessionID)
	if err != nil {
		return "", err
	}
	if err := r.store.RevokeDevice(ctx, accountID, deviceID, ReasonSessionRevoked, now); err != nil {
		return "", err
	}
	return deviceID, nil
}

// Touch refreshes last-seen metadata (best-effort; errors are logged).
func (r *Registry) Touch(ctx context.Context, accountID int64, dev Device, now time.Time) {
	if dev.ID == "" {
		return
	}
	if err := r.store.TouchDevice(ctx, accountID, dev.ID, dev.IP, dev.UserAgent, now); err != nil {
		r.log.Debug("session.touch_failed", "account_id", accountID, "err", err)
	}
}

// SetTrusted marks a live device session as trusted or untrusted.
func (r *Registry) SetTrusted(ctx context.Context, accountID int64, deviceID string, trusted bool) error {
	return r.store.SetTrusted(ctx, accountID, deviceID, trusted)
}

// PurgeExpired drops token rows expired or revoked longer than the retention window.
func (r *Registry) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.store.PurgeExpired(ctx, now.Add(-r.cfg.PurgeRetention))
	if err != nil {
		return 0, err
	}
	r.log.Info("session.purge", "deleted", n)
	return n, nil
}
