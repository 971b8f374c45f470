package realtime

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid websocket configuration.
var ErrConfig = errors.New("realtime: invalid config")

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 8
)

// Config controls the alert channel.
type Config struct {
	// DevInsecure disables the origin check inside websocket.Accept. Dev only.
	DevInsecure    bool     `env:"DEV_INSECURE"`
	OriginRequired bool     `env:"ORIGIN_REQUIRED"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"`
	ReadIdleTimeout time.Duration `env:"READ_IDLE_TIMEOUT"`
	SendQueue       int           `env:"SEND_QUEUE"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT"`

	RateEvents int           `env:"RATE_EVENTS"`
	RateWindow time.Duration `env:"RATE_WINDOW"`
}

// DefaultConfig requires an Origin and only allows localhost.
func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueue:         wsDefaultSendQueueSize,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

// LoadConfigFromEnv overlays TRUSTCORE_WS_* variables on DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_WS_"}); err != nil {
		return Config{}, ErrConfig
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

// Normalize raises the send queue to its floor.
func (c *Config) Normalize() {
	if c.SendQueue < wsMinSendQueueSize {
		c.SendQueue = wsMinSendQueueSize
	}
}

// Validate checks timeouts and limits.
func (c Config) Validate() error {
	if c.WriteTimeout <= 0 || c.ReadIdleTimeout <= 0 {
		return ErrConfig
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= 0 || c.HeartbeatTimeout >= c.HeartbeatInterval {
		return ErrConfig
	}
	if c.RateEvents < 1 || c.RateWindow <= 0 {
		return ErrConfig
	}
	return nil
}
