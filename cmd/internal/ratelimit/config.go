package ratelimit

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls budgets and which paths are classed as login or skipped.
type Config struct {
	Enabled    bool          `env:"ENABLED"`
	Limit      int           `env:"REQUESTS_PER_WINDOW"`
	LoginLimit int           `env:"LOGIN_PER_WINDOW"`
	Window     time.Duration `env:"WINDOW"`

	// LoginPaths are matched as path prefixes.
	LoginPaths []string `env:"LOGIN_PATHS" envSeparator:","`
	// SkipPaths are matched exactly.
	SkipPaths []string `env:"SKIP_PATHS" envSeparator:","`
}

// DefaultConfig returns 100 requests and 5 logins per minute.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Limit:      100,
		LoginLimit: 5,
		Window:     time.Minute,
		LoginPaths: []string{"/v1/auth/login", "/v1/otp/verify"},
		SkipPaths:  []string{"/healthz", "/readyz", "/metrics"},
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_RATELIMIT_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_RATELIMIT_"}); err != nil {
		return Config{}, ErrConfig
	}
	return cfg, cfg.Validate()
}

// Validate checks bounds.
func (c Config) Validate() error {
	if c.Limit < 1 || c.LoginLimit < 1 || c.Window < time.Second {
		return ErrConfig
	}
	return nil
}

func (c Config) isLogin(path string) bool {
	for _, p := range c.LoginPaths {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (c Config) skips(path string) bool {
	for _, p := range c.SkipPaths {
		if p == path {
			return true
		}
	}
	return false
}
