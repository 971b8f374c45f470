package biometric

import (
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config covers thresholds and the recognition engine endpoint.
type Config struct {
	Enabled bool `env:"ENABLED"`

	LivenessThreshold float64 `env:"LIVENESS_THRESHOLD"`
	VerifyThreshold   float64 `env:"VERIFY_THRESHOLD"`

	EngineURL      string        `env:"ENGINE_URL"`
	EngineAPIKey   string        `env:"ENGINE_API_KEY"`
	ExtractTimeout time.Duration `env:"EXTRACT_TIMEOUT"`
	CompareTimeout time.Duration `env:"COMPARE_TIMEOUT"`
	HealthTimeout  time.Duration `env:"HEALTH_TIMEOUT"`
	// EngineRPS and EngineBurst cap outbound calls from this process.
	EngineRPS   float64 `env:"ENGINE_RPS"`
	EngineBurst int     `env:"ENGINE_BURST"`

	// MaxSampleBytes bounds the base64 image forwarded to the engine.
	MaxSampleBytes int `env:"MAX_SAMPLE_BYTES"`
}

// DefaultConfig returns the production thresholds (0.90 liveness, 0.85 similarity).
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		LivenessThreshold: 0.90,
		VerifyThreshold:   0.85,
		EngineURL:         "http://localhost:8001",
		ExtractTimeout:    30 * time.Second,
		CompareTimeout:    10 * time.Second,
		HealthTimeout:     5 * time.Second,
		EngineRPS:         10,
		EngineBurst:       20,
		MaxSampleBytes:    8 << 20,
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_BIOMETRIC_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_BIOMETRIC_"}); err != nil {
		return Config{}, ErrConfig
	}
	return cfg, cfg.Validate()
}

// Validate checks thresholds and, when enabled, the engine URL.
func (c Config) Validate() error {
	if c.LivenessThreshold <= 0 || c.LivenessThreshold > 1 || c.VerifyThreshold <= 0 || c.VerifyThreshold > 1 {
		return ErrConfig
	}
	if c.ExtractTimeout <= 0 || c.CompareTimeout <= 0 || c.HealthTimeout <= 0 {
		return ErrConfig
	}
	if c.EngineRPS <= 0 || c.EngineBurst < 1 || c.MaxSampleBytes < 1 {
		return ErrConfig
	}
	if c.Enabled {
		u, err := url.Parse(c.EngineURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrConfig
		}
	}
	return nil
}
