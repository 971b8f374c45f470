package session

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigFromEnv_InvalidDurations(t *testing.T) {
	t.Setenv("TRUSTCORE_SESSION_REFRESH_TTL_WEB", "-5m")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig for negative duration, got %v", err)
	}
}

func TestLoadConfigFromEnv_Unparseable(t *testing.T) {
	t.Setenv("TRUSTCORE_SESSION_REFRESH_TTL_NATIVE", "forever")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoadConfigFromEnv_InvalidNativeTTLOrder(t *testing.T) {
	t.Setenv("TRUSTCORE_SESSION_REFRESH_TTL_NATIVE", "24h")
	t.Setenv("TRUSTCORE_SESSION_REFRESH_TTL_NATIVE_SHORT", "72h")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig for native ttl order, got %v", err)
	}
}

func TestLoadConfigFromEnv_Valid(t *testing.T) {
	t.Setenv("TRUSTCORE_SESSION_REFRESH_TTL_WEB", "48h")
	t.Setenv("TRUSTCORE_SESSION_REFRESH_TTL_NATIVE", "720h")
	t.Setenv("TRUSTCORE_SESSION_REFRESH_TTL_NATIVE_SHORT", "168h")
	t.Setenv("TRUSTCORE_SESSION_REVOKE_ON_REUSE", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RefreshTTLWeb != 48*time.Hour {
		t.Fatalf("refresh web ttl mismatch: %v", cfg.RefreshTTLWeb)
	}
	if cfg.RefreshTTLNative != 720*time.Hour {
		t.Fatalf("refresh native ttl mismatch: %v", cfg.RefreshTTLNative)
	}
	if cfg.RefreshTTLNativeShort != 168*time.Hour {
		t.Fatalf("refresh native short ttl mismatch: %v", cfg.RefreshTTLNativeShort)
	}
	if !cfg.RevokeOnReuse {
		t.Fatalf("expected revoke on reuse")
	}
}
