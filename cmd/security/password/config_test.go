package password

import "testing"

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	def := DefaultConfig()
	if cfg.Scheme != SchemeBcrypt || cfg.BcryptCost != 12 {
		t.Fatalf("unexpected scheme defaults: %+v", cfg)
	}
	if cfg.Policy != def.Policy {
		t.Fatalf("policy mismatch: %+v", cfg.Policy)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("TRUSTCORE_PASSWORD_SCHEME", "argon2id")
	t.Setenv("TRUSTCORE_PASSWORD_BCRYPT_COST", "10")
	t.Setenv("TRUSTCORE_PASSWORD_MIN_LEN", "10")
	t.Setenv("TRUSTCORE_PASSWORD_MAX_LEN", "64")
	t.Setenv("TRUSTCORE_PASSWORD_REJECT_VERY_WEAK", "true")
	t.Setenv("TRUSTCORE_PASSWORD_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("TRUSTCORE_PASSWORD_ARGON2_ITERATIONS", "4")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}
	if cfg.Scheme != SchemeArgon2id || cfg.BcryptCost != 10 {
		t.Fatalf("scheme override failed: %+v", cfg)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 64 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "scheme", key: "TRUSTCORE_PASSWORD_SCHEME", val: "md5"},
		{name: "cost", key: "TRUSTCORE_PASSWORD_BCRYPT_COST", val: "40"},
		{name: "min over max", key: "TRUSTCORE_PASSWORD_MIN_LEN", val: "100"},
		{name: "not a number", key: "TRUSTCORE_PASSWORD_MAX_LEN", val: "lots"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
