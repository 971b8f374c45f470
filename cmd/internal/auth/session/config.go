package session

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config defines the runtime configuration of the session registry.
//
// Refresh lifetimes are chosen per platform at login and carried across rotations,
// so a "remember me" native session keeps its long lifetime.
type Config struct {
	RefreshTTLWeb         time.Duration `env:"REFRESH_TTL_WEB"`
	RefreshTTLNative      time.Duration `env:"REFRESH_TTL_NATIVE"`
	RefreshTTLNativeShort time.Duration `env:"REFRESH_TTL_NATIVE_SHORT"`

	// RevokeOnReuse revokes every session of the account when a rotated token is replayed.
	RevokeOnReuse bool `env:"REVOKE_ON_REUSE"`

	// PurgeRetention keeps revoked/expired rows this long before PurgeExpired drops them.
	PurgeRetention time.Duration `env:"PURGE_RETENTION"`
}

// DefaultConfig returns a secure default configuration suitable for development.
func DefaultConfig() Config {
	return Config{
		RefreshTTLWeb:         7 * 24 * time.Hour,
		RefreshTTLNative:      60 * 24 * time.Hour,
		RefreshTTLNativeShort: 14 * 24 * time.Hour,
		PurgeRetention:        7 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_SESSION_* variables on DefaultConfig.
//
// Optional (durations must be valid Go duration strings):
//   - TRUSTCORE_SESSION_REFRESH_TTL_WEB
//   - TRUSTCORE_SESSION_REFRESH_TTL_NATIVE
//   - TRUSTCORE_SESSION_REFRESH_TTL_NATIVE_SHORT
//   - TRUSTCORE_SESSION_REVOKE_ON_REUSE
//   - TRUSTCORE_SESSION_PURGE_RETENTION
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_SESSION_"}); err != nil {
		return Config{}, ErrConfig
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks TTL invariants.
func (c Config) Validate() error {
	if c.RefreshTTLWeb <= 0 || c.RefreshTTLNative <= 0 || c.RefreshTTLNativeShort <= 0 || c.PurgeRetention < 0 {
		return ErrConfig
	}
	// Native "short" must not exceed native "long".
	if c.RefreshTTLNative < c.RefreshTTLNativeShort {
		return ErrConfig
	}
	return nil
}

func (c Config) refreshTTL(dev Device) time.Duration {
	switch dev.Platform {
	case PlatformWeb:
		return c.RefreshTTLWeb
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		if dev.RememberMe {
			return c.RefreshTTLNative
		}
		return c.RefreshTTLNativeShort
	default:
		// Conservative default.
		return c.RefreshTTLWeb
	}
}
