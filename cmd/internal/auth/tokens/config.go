package tokens

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config defines the runtime configuration of the token service.
type Config struct {
	// Issuer is the "iss" claim value, enforced on verify.
	Issuer string `env:"ISSUER"`

	AccessTTL  time.Duration `env:"ACCESS_TTL"`
	RefreshTTL time.Duration `env:"REFRESH_TTL"`
	// ServiceTTL defaults to 4x AccessTTL when zero.
	ServiceTTL time.Duration `env:"SERVICE_TTL"`

	// ClockSkew is the leeway applied to exp/iat checks.
	ClockSkew time.Duration `env:"CLOCK_SKEW"`

	// SigningKey is a base64 Ed25519 seed (32 bytes) or private key (64 bytes).
	SigningKey string `env:"SIGNING_KEY"`
}

// DefaultConfig returns development defaults. SigningKey is left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:     "trustcore",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_TOKEN_* variables on DefaultConfig.
//
// Env surface:
//   - TRUSTCORE_TOKEN_ISSUER
//   - TRUSTCORE_TOKEN_ACCESS_TTL / _REFRESH_TTL / _SERVICE_TTL (Go durations)
//   - TRUSTCORE_TOKEN_CLOCK_SKEW
//   - TRUSTCORE_TOKEN_SIGNING_KEY (required for NewManager)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_TOKEN_"}); err != nil {
		return Config{}, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks TTL invariants. It does not require a signing key.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ServiceTTL < 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	// Refresh must outlive access or rotation is pointless.
	if c.RefreshTTL <= c.AccessTTL {
		return ErrConfig
	}
	return nil
}

func (c Config) serviceTTL() time.Duration {
	if c.ServiceTTL > 0 {
		return c.ServiceTTL
	}
	return 4 * c.AccessTTL
}

// ParseSigningKey decodes a base64 Ed25519 seed or full private key.
func ParseSigningKey(encoded string) (ed25519.PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrConfig
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, ErrConfig
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, ErrConfig
	}
}
