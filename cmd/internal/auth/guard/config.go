package guard

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the account guard policy.
type Config struct {
	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD"`
	LockoutDuration  time.Duration `env:"LOCKOUT_DURATION"`
	HistoryDepth     int           `env:"PASSWORD_HISTORY"`
	EmailVerifyTTL   time.Duration `env:"EMAIL_VERIFY_TTL"`
	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL"`
}

// DefaultConfig returns k=5, 15 minute lock, N=5 history, 24h verify and 1h reset windows.
func DefaultConfig() Config {
	return Config{
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		HistoryDepth:     5,
		EmailVerifyTTL:   24 * time.Hour,
		PasswordResetTTL: time.Hour,
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_GUARD_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_GUARD_"}); err != nil {
		return Config{}, ErrConfig
	}
	return cfg, cfg.Validate()
}

// Validate checks policy bounds.
func (c Config) Validate() error {
	if c.LockoutThreshold < 1 || c.LockoutDuration <= 0 {
		return ErrConfig
	}
	if c.HistoryDepth < 1 || c.EmailVerifyTTL <= 0 || c.PasswordResetTTL <= 0 {
		return ErrConfig
	}
	return nil
}
