package otp

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls code shape and the attempt and send budgets.
type Config struct {
	Digits      int           `env:"DIGITS"`
	TTL         time.Duration `env:"TTL"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
	SendLimit   int           `env:"SEND_LIMIT"`
	SendWindow  time.Duration `env:"SEND_WINDOW"`

	// TOTPIssuer labels the enrolled secret in authenticator apps.
	TOTPIssuer string `env:"TOTP_ISSUER"`
	// TOTPSkew is the number of 30s periods accepted on either side of now.
	TOTPSkew uint `env:"TOTP_SKEW"`
	// TOTPMaxAttempts bounds TOTP checks per account and use within TOTPAttemptWindow.
	TOTPMaxAttempts   int           `env:"TOTP_MAX_ATTEMPTS"`
	TOTPAttemptWindow time.Duration `env:"TOTP_ATTEMPT_WINDOW"`
}

// DefaultConfig returns 6 digits, 5 minute codes, 3 attempts and 3 sends per 5 minutes,
// plus 5 TOTP checks per 5 minutes.
func DefaultConfig() Config {
	return Config{
		Digits:      6,
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		SendLimit:   3,
		SendWindow:  5 * time.Minute,
		TOTPIssuer:  "trustcore",
		TOTPSkew:    1,

		TOTPMaxAttempts:   5,
		TOTPAttemptWindow: 5 * time.Minute,
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_OTP_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_OTP_"}); err != nil {
		return Config{}, ErrConfig
	}
	return cfg, cfg.Validate()
}

// Validate checks bounds.
func (c Config) Validate() error {
	if c.Digits < 4 || c.Digits > 10 {
		return ErrConfig
	}
	if c.TTL <= 0 || c.MaxAttempts < 1 || c.SendLimit < 1 || c.SendWindow <= 0 {
		return ErrConfig
	}
	if c.TOTPIssuer == "" || c.TOTPMaxAttempts < 1 || c.TOTPAttemptWindow <= 0 || c.TOTPSkew > 2 {
		return ErrConfig
	}
	return nil
}
