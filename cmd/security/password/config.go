package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

// Scheme names the algorithm used for new hashes.
type Scheme string

const (
	SchemeBcrypt   Scheme = "bcrypt"
	SchemeArgon2id Scheme = "argon2id"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"MEMORY_KIB"`
	Iterations  uint32 `env:"ITERATIONS"`
	Parallelism uint8  `env:"PARALLELISM"`
	SaltLength  uint32 `env:"SALT_LEN"`
	KeyLength   uint32 `env:"KEY_LEN"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int `env:"MIN_LEN"`
	// bcrypt ignores input past 72 bytes; MaxLength keeps the check honest.
	MaxLength int `env:"MAX_LEN"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Scheme     Scheme         `env:"SCHEME"`
	BcryptCost int            `env:"BCRYPT_COST"`
	Params     Argon2idParams `envPrefix:"ARGON2_"`
	Policy     Policy
}

// DefaultConfig returns bcrypt at cost 12 with an 8..72 character policy.
func DefaultConfig() Config {
	// English comment:
	// CPU-aware parallelism is clamped to [1..4] to keep Argon2id predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Scheme:     SchemeBcrypt,
		BcryptCost: 12,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 72,
		},
	}
}

// FromEnv overlays TRUSTCORE_PASSWORD_* variables on DefaultConfig.
//
// Env surface:
// - TRUSTCORE_PASSWORD_SCHEME (bcrypt|argon2id)
// - TRUSTCORE_PASSWORD_BCRYPT_COST
// - TRUSTCORE_PASSWORD_MIN_LEN / _MAX_LEN / _REJECT_VERY_WEAK
// - TRUSTCORE_PASSWORD_ARGON2_MEMORY_KIB / _ITERATIONS / _PARALLELISM / _SALT_LEN / _KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRUSTCORE_PASSWORD_"}); err != nil {
		return Config{}, fmt.Errorf("password: parse env: %w", err)
	}
	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check validates the configuration itself (not a password).
func (c Config) Check() error {
	switch c.Scheme {
	case SchemeBcrypt, SchemeArgon2id:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScheme, c.Scheme)
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("password: bcrypt cost out of range [%d..%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Policy.MinLength < 1 {
		return fmt.Errorf("password policy invalid: min_len(%d) < 1", c.Policy.MinLength)
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	if c.Params.MemoryKiB < 8*1024 || c.Params.Iterations == 0 || c.Params.Parallelism == 0 {
		return fmt.Errorf("password: argon2id params too weak")
	}
	if c.Params.SaltLength < 8 || c.Params.KeyLength < 16 {
		return fmt.Errorf("password: argon2id salt/key too short")
	}
	return nil
}
