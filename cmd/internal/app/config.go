package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"trustcore/cmd/internal/audit"
	authapi "trustcore/cmd/internal/auth/api"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/internal/biometric"
	"trustcore/cmd/internal/notify"
	"trustcore/cmd/internal/otp"
	"trustcore/cmd/internal/ratelimit"
	"trustcore/cmd/internal/realtime"
	"trustcore/cmd/security/password"
)

// ErrConfig is returned when the process configuration cannot be loaded.
var ErrConfig = errors.New("app: invalid config")

// Config contains all runtime configuration loaded from environment variables.
//
// Process-level keys live on Config itself (prefix TRUSTCORE_). Component configs are
// nested under their own prefix (TRUSTCORE_TOKEN_*, TRUSTCORE_GUARD_*, ...) and start
// from that component's DefaultConfig.
type Config struct {
	Env      string `env:"ENV"`
	HTTPAddr string `env:"HTTP_ADDR"`
	LogLevel string `env:"LOG_LEVEL"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBSchema    string `env:"DB_SCHEMA"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS"`
	DBMinConns  int32  `env:"DB_MIN_CONNS"`
	DBMigrate   bool   `env:"DB_MIGRATE"`

	RedisURL string `env:"REDIS_URL"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `env:"READINESS_REQUIRE_DB"`

	// OTelEndpoint enables OTLP/HTTP trace export when set (full URL, e.g. http://collector:4318).
	OTelEndpoint    string `env:"OTEL_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME"`

	// Secrets. TokenHashPepper is optional; BiometricKey is required when biometrics are enabled.
	TokenHashPepper string `env:"TOKEN_HASH_PEPPER"`
	BiometricKey    string `env:"BIOMETRIC_KEY"`
	MFAKey          string `env:"MFA_KEY"`

	PurgeInterval time.Duration `env:"PURGE_INTERVAL"`

	Tokens    tokens.Config    `envPrefix:"TOKEN_"`
	Session   session.Config   `envPrefix:"SESSION_"`
	Guard     guard.Config     `envPrefix:"GUARD_"`
	Password  password.Config  `envPrefix:"PASSWORD_"`
	OTP       otp.Config       `envPrefix:"OTP_"`
	RateLimit ratelimit.Config `envPrefix:"RATELIMIT_"`
	Biometric biometric.Config `envPrefix:"BIOMETRIC_"`
	API       authapi.Config   `envPrefix:"API_"`
	WS        realtime.Config  `envPrefix:"WS_"`
	Notify    notify.Config    `envPrefix:"NOTIFY_"`
	Audit     audit.SinkConfig `envPrefix:"AUDIT_"`
}

// DefaultConfig returns development defaults for the process keys and every component.
func DefaultConfig() Config {
	return Config{
		Env:               "development",
		HTTPAddr:          "0.0.0.0:8080",
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		CORSMaxAgeSeconds: 600,
		DBSchema:          "trustcore",
		DBMaxConns:        10,
		OTelServiceName:   "trustcore",
		PurgeInterval:     24 * time.Hour,

		Tokens:    tokens.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Guard:     guard.DefaultConfig(),
		Password:  password.DefaultConfig(),
		OTP:       otp.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Biometric: biometric.DefaultConfig(),
		API:       authapi.DefaultConfig(),
		WS:        realtime.DefaultConfig(),
		Notify:    notify.DefaultConfig(),
		Audit:     audit.DefaultSinkConfig(),
	}
}

// Production reports whether the process runs with production policy.
func (c Config) Production() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "prod", "production":
		return true
	}
	return false
}

// LoadConfig reads an optional .env file, then every TRUSTCORE_* variable.
// A missing .env is not an error; variables already set in the environment win.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: .env: %v", ErrConfig, err)
	}

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_"}); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	cfg.API.Normalize()
	cfg.WS.Normalize()

	return cfg, cfg.Validate()
}

// Validate checks the process-level keys and every component config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: empty http addr", ErrConfig)
	}
	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("%w: db pool bounds", ErrConfig)
	}
	if c.PurgeInterval < time.Minute {
		return fmt.Errorf("%w: purge interval below 1m", ErrConfig)
	}

	checks := []struct {
		name string
		fn   func() error
	}{
		{"token", c.Tokens.Validate},
		{"session", c.Session.Validate},
		{"guard", c.Guard.Validate},
		{"password", c.Password.Check},
		{"otp", c.OTP.Validate},
		{"ratelimit", c.RateLimit.Validate},
		{"biometric", c.Biometric.Validate},
		{"api", c.API.Validate},
		{"ws", c.WS.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s config: %w", ch.name, err)
		}
	}
	return nil
}
