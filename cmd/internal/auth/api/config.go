package authapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("authapi: invalid config")

// Config controls the HTTP adapter: proxy trust, body limits and the web cookie transport.
type Config struct {
	TrustProxy     bool     `env:"TRUST_PROXY"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	MaxBodyBytes   int64    `env:"MAX_BODY_BYTES"`

	// WebRefreshCookieEnabled moves the refresh token of web clients into an HttpOnly cookie
	// guarded by a double-submit CSRF token.
	WebRefreshCookieEnabled bool   `env:"WEB_REFRESH_COOKIE_ENABLED"`
	RefreshCookieName       string `env:"REFRESH_COOKIE_NAME"`
	CSRFCookieName          string `env:"CSRF_COOKIE_NAME"`
	CSRFHeaderName          string `env:"CSRF_HEADER_NAME"`
	CookiePath              string `env:"COOKIE_PATH"`
	CookieDomain            string `env:"COOKIE_DOMAIN"`
	CookieSecure            bool   `env:"COOKIE_SECURE"`
	CookieSameSiteRaw       string `env:"COOKIE_SAMESITE"`

	CookieSameSite http.SameSite `env:"-"`
}

// DefaultConfig returns a 1 MiB body limit and secure cookie defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:            1 << 20,
		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "trustcore_refresh_token",
		CSRFCookieName:          "trustcore_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/v1/auth",
		CookieSecure:            true,
		CookieSameSiteRaw:       "lax",
		CookieSameSite:          http.SameSiteLaxMode,
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_API_* variables on DefaultConfig and applies
// the cookie guardrails.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_API_"}); err != nil {
		return Config{}, ErrConfig
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

// Normalize keeps cookie settings coherent: distinct names, Secure with SameSite=None.
func (c *Config) Normalize() {
	c.CookieSameSite = parseSameSite(c.CookieSameSiteRaw)
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	if strings.TrimSpace(c.CookiePath) == "" {
		c.CookiePath = "/"
	}
	if c.CSRFCookieName == c.RefreshCookieName {
		c.CSRFCookieName = c.RefreshCookieName + "_csrf"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
}

// Validate checks the cookie transport settings.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return ErrConfig
	}
	if c.WebRefreshCookieEnabled && (strings.TrimSpace(c.RefreshCookieName) == "" ||
		strings.TrimSpace(c.CSRFCookieName) == "" || strings.TrimSpace(c.CSRFHeaderName) == "") {
		return ErrConfig
	}
	return nil
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}
