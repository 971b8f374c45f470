package session

import (
	"context"
	"strings"
	"time"
)

// Platform represents the client platform associated with a device session.
type Platform string

const (
	PlatformWeb     Platform = "web"
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform maps free-form client input to a known Platform.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformWeb, PlatformIOS, PlatformAndroid, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// Revocation reasons recorded on refresh_tokens.revoked_reason.
const (
	ReasonNewLogin       = "new login"
	ReasonRotated        = "rotated"
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout all"
	ReasonPasswordChange = "password change"
	ReasonPasswordReset  = "password reset"
	ReasonLockout        = "lockout"
	ReasonDeletion       = "account deleted"
	ReasonReuse          = "reuse detected"
	ReasonSessionRevoked = "session revoked"
)

// Device describes the client presenting credentials.
type Device struct {
	ID         string
	Name       string
	Platform   Platform
	RememberMe bool
	IP         string
	UserAgent  string
}

// DeviceSession is one (account, device) pair as seen by the account owner.
type DeviceSession struct {
	ID           int64
	AccountID    int64
	DeviceID     string
	DeviceName   string
	Platform     Platform
	IP           string
	UserAgent    string
	LastActiveAt time.Time
	CreatedAt    time.Time
	Trusted      bool
	Revoked      bool

	// Current is computed per request: the caller's own device.
	Current bool
}

// TokenRecord is a stored refresh token. Only the digest is kept.
type TokenRecord struct {
	ID            int64
	AccountID     int64
	DeviceID      string
	TokenHash     string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	Revoked       bool
	RevokedReason string
	RevokedAt     *time.Time
}

// Usable reports whether the token may still be exchanged.
func (r TokenRecord) Usable(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}

// NewToken is a freshly minted refresh token ready to persist.
type NewToken struct {
	Hash      string
	ExpiresAt time.Time
}

// Minter mints the replacement token inside a rotation, once the old record is
// locked and validated. Returning an error aborts the rotation.
type Minter func(old TokenRecord) (NewToken, error)

// LoginInput persists the refresh token issued at login.
type LoginInput struct {
	AccountID int64
	Device    Device
	Token     NewToken
	Now       time.Time
}

// Store abstracts persistence for refresh tokens and device sessions.
//
// Implementations must make each method atomic, and must serialize Rotate
// against RevokeAccount/RevokeDevice for the same account.
type Store interface {
	// SaveLogin revokes live tokens for (account, device) with ReasonNewLogin,
	// inserts the new token and upserts the device session.
	SaveLogin(ctx context.Context, in LoginInput) error

	// Rotate exchanges the token with hash oldHash. The account must be active.
	// Returns ErrInvalidToken (or ErrRefreshReuseDetected with the old record) on failure.
	Rotate(ctx context.Context, oldHash string, now time.Time, mint Minter) (old TokenRecord, err error)

	// RevokeDevice revokes the device's tokens and marks its session revoked.
	RevokeDevice(ctx context.Context, accountID int64, deviceID, reason string, now time.Time) error

	// RevokeAccount revokes every token and device session of the account.
	RevokeAccount(ctx context.Context, accountID int64, reason string, now time.Time) (tokens int64, err error)

	// ListDevices returns non-revoked sessions, most recently active first.
	ListDevices(ctx context.Context, accountID int64) ([]DeviceSession, error)

	// DeviceBySessionID resolves a session id owned by accountID to its device id.
	DeviceBySessionID(ctx context.Context, accountID, sessionID int64) (string, error)

	// TouchDevice refreshes last-seen metadata of a live device session.
	TouchDevice(ctx context.Context, accountID int64, deviceID, ip, userAgent string, now time.Time) error

	// SetTrusted flags a live device session as trusted or not.
	SetTrusted(ctx context.Context, accountID int64, deviceID string, trusted bool) error

	// PurgeExpired deletes tokens that expired, or were revoked, before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
