package app

import (
	"errors"
	"fmt"
	"strings"

	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/security/aead"
	"trustcore/cmd/security/token"
)

// ErrSecurityPolicy is returned when the configuration violates the startup policy.
var ErrSecurityPolicy = errors.New("security policy")

// ValidateSecurityConfig enforces the startup security policy.
//
// Security contract:
//   - Fail-fast: a bad key is never replaced by a weaker fallback.
//   - Production requires a signing key, secure cookies and no dev-only escape hatches.
//   - Keys are checked with the same code that later uses them.
func ValidateSecurityConfig(cfg Config) error {
	prod := cfg.Production()

	if strings.TrimSpace(cfg.Tokens.SigningKey) == "" {
		if prod {
			return fmt.Errorf("%w: TRUSTCORE_TOKEN_SIGNING_KEY is required in production", ErrSecurityPolicy)
		}
	} else if _, err := tokens.ParseSigningKey(cfg.Tokens.SigningKey); err != nil {
		return fmt.Errorf("%w: TRUSTCORE_TOKEN_SIGNING_KEY: %v", ErrSecurityPolicy, err)
	}

	if p := cfg.TokenHashPepper; p != "" {
		if _, err := token.NewHasher([]byte(p)); err != nil {
			return fmt.Errorf("%w: TRUSTCORE_TOKEN_HASH_PEPPER must be at least %d bytes", ErrSecurityPolicy, token.MinPepperBytes)
		}
	}

	if cfg.Biometric.Enabled {
		if strings.TrimSpace(cfg.BiometricKey) == "" {
			return fmt.Errorf("%w: TRUSTCORE_BIOMETRIC_KEY is required when biometrics are enabled", ErrSecurityPolicy)
		}
		if _, err := aead.NewFromBase64(cfg.BiometricKey); err != nil {
			return fmt.Errorf("%w: TRUSTCORE_BIOMETRIC_KEY: %v", ErrSecurityPolicy, err)
		}
	}
	if k := strings.TrimSpace(cfg.MFAKey); k != "" {
		if _, err := aead.NewFromBase64(k); err != nil {
			return fmt.Errorf("%w: TRUSTCORE_MFA_KEY: %v", ErrSecurityPolicy, err)
		}
	}

	if !prod {
		return nil
	}
	if !cfg.API.CookieSecure {
		return fmt.Errorf("%w: TRUSTCORE_API_COOKIE_SECURE must stay true in production", ErrSecurityPolicy)
	}
	if cfg.WS.DevInsecure {
		return fmt.Errorf("%w: TRUSTCORE_WS_DEV_INSECURE is not allowed in production", ErrSecurityPolicy)
	}
	if cfg.Notify.LogReveal {
		return fmt.Errorf("%w: TRUSTCORE_NOTIFY_LOG_REVEAL is not allowed in production", ErrSecurityPolicy)
	}
	for _, o := range cfg.CORSAllowedOrigins {
		if strings.TrimSpace(o) == "*" && cfg.CORSAllowCredentials {
			return fmt.Errorf("%w: wildcard CORS origin with credentials", ErrSecurityPolicy)
		}
	}
	return nil
}
