package tokens

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type tags a token class.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
	TypeService Type = "service"
)

// Claims is the signed payload.
type Claims struct {
	jwt.RegisteredClaims
	Type        Type     `json:"type"`
	DeviceID    string   `json:"device_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	ServiceName string   `json:"service_name,omitempty"`
}

// Identity is the verified view of a token consumed by middleware.
type Identity struct {
	Subject     string
	Type        Type
	DeviceID    string
	Roles       []string
	Permissions []string
	ServiceName string
	Issuer      string
	ID          string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Issued is a freshly signed token.
type Issued struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// Manager signs and verifies tokens. Safe for concurrent use.
type Manager struct {
	cfg    Config
	secret ed25519.PrivateKey
	public ed25519.PublicKey
	now    func() time.Time
	parser *jwt.Parser
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the verification clock (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a Manager from cfg and an Ed25519 private key.
func NewManager(cfg Config, secret ed25519.PrivateKey, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(secret) != ed25519.PrivateKeySize {
		return nil, ErrConfig
	}
	m := &Manager{
		cfg:    cfg,
		secret: secret,
		public: secret.Public().(ed25519.PublicKey),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m, nil
}

// NewManagerFromConfig parses cfg.SigningKey and calls NewManager.
func NewManagerFromConfig(cfg Config, opts ...Option) (*Manager, error) {
	key, err := ParseSigningKey(cfg.SigningKey)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg, key, opts...)
}

// GenerateSigningKey returns a fresh base64 Ed25519 seed for dev setups and tests.
func GenerateSigningKey() (string, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(seed), nil
}

// PublicKeyBase64 exports the verification key for relying services.
func (m *Manager) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(m.public)
}

// AccessTTL is the lifetime of access tokens (used for "expires_in").
func (m *Manager) AccessTTL() time.Duration { return m.cfg.AccessTTL }

// RefreshTTL is the lifetime of refresh tokens.
func (m *Manager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

// IssueAccess mints an access token for subject on deviceID with the given authority sets.
func (m *Manager) IssueAccess(subject, deviceID string, roles, permissions []string, now time.Time) (Issued, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(deviceID) == "" {
		return Issued{}, ErrBadClaims
	}
	return m.sign(Claims{
		Type:        TypeAccess,
		DeviceID:    deviceID,
		Roles:       sortedCopy(roles),
		Permissions: sortedCopy(permissions),
	}, subject, m.cfg.AccessTTL, now)
}

// IssueRefresh mints a refresh token. The caller persists sha256(token) with ExpiresAt.
func (m *Manager) IssueRefresh(subject, deviceID string, now time.Time) (Issued, error) {
	return m.IssueRefreshTTL(subject, deviceID, 0, now)
}

// IssueRefreshTTL is IssueRefresh with a per-device lifetime; ttl <= 0 selects RefreshTTL.
func (m *Manager) IssueRefreshTTL(subject, deviceID string, ttl time.Duration, now time.Time) (Issued, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(deviceID) == "" {
		return Issued{}, ErrBadClaims
	}
	if ttl <= 0 {
		ttl = m.cfg.RefreshTTL
	}
	return m.sign(Claims{Type: TypeRefresh, DeviceID: deviceID}, subject, ttl, now)
}

// IssueService mints a token for an internal caller; the subject is the service name.
func (m *Manager) IssueService(serviceName string, permissions []string, now time.Time) (Issued, error) {
	if strings.TrimSpace(serviceName) == "" {
		return Issued{}, ErrBadClaims
	}
	return m.sign(Claims{
		Type:        TypeService,
		ServiceName: serviceName,
		Permissions: sortedCopy(permissions),
	}, serviceName, m.cfg.serviceTTL(), now)
}

func (m *Manager) sign(c Claims, subject string, ttl time.Duration, now time.Time) (Issued, error) {
	if now.IsZero() {
		now = m.now()
	}
	exp := now.Add(ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    m.cfg.Issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c).SignedString(m.secret)
	if err != nil {
		return Issued{}, err
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return Issued{Token: signed, ID: c.ID, ExpiresAt: c.ExpiresAt.Time}, nil
}

// Verify checks signature, issuer and time claims and returns the identity.
// It never touches a store.
func (m *Manager) Verify(token string) (Identity, error) {
	var c Claims
	_, err := m.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.public, nil
	})
	if err != nil {
		return Identity{}, classify(err)
	}

	if c.Subject == "" || c.ID == "" {
		return Identity{}, ErrBadClaims
	}
	switch c.Type {
	case TypeAccess, TypeRefresh:
		if c.DeviceID == "" {
			return Identity{}, ErrBadClaims
		}
	case TypeService:
		if c.ServiceName == "" {
			return Identity{}, ErrBadClaims
		}
	default:
		return Identity{}, ErrBadClaims
	}

	id := Identity{
		Subject:     c.Subject,
		Type:        c.Type,
		DeviceID:    c.DeviceID,
		Roles:       c.Roles,
		Permissions: c.Permissions,
		ServiceName: c.ServiceName,
		Issuer:      c.Issuer,
		ID:          c.ID,
	}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrBadClaims
	}
}

// HasPermission reports whether id carries perm.
func (id Identity) HasPermission(perm string) bool {
	return slices.Contains(id.Permissions, perm)
}

// HasRole reports whether id carries role.
func (id Identity) HasRole(role string) bool {
	return slices.Contains(id.Roles, role)
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
