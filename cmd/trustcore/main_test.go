package main

import (
	"bytes"
	"strings"
	"testing"

	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/security/aead"
)

func TestKeygen(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"keygen"}, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	vals := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			t.Fatalf("malformed line %q", line)
		}
		vals[k] = v
	}
	if _, err := tokens.ParseSigningKey(vals["TRUSTCORE_TOKEN_SIGNING_KEY"]); err != nil {
		t.Fatalf("signing key: %v", err)
	}
	for _, k := range []string{"TRUSTCORE_BIOMETRIC_KEY", "TRUSTCORE_MFA_KEY"} {
		if _, err := aead.NewFromBase64(vals[k]); err != nil {
			t.Fatalf("%s: %v", k, err)
		}
	}
}

func TestServiceToken(t *testing.T) {
	t.Chdir(t.TempDir())
	key, err := tokens.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	t.Setenv("TRUSTCORE_TOKEN_SIGNING_KEY", key)

	var out bytes.Buffer
	if err := run([]string{"service-token", "-name", "billing", "-perms", "users:read, users:write"}, &out); err != nil {
		t.Fatalf("service-token: %v", err)
	}

	tm, err := tokens.NewManagerFromConfig(tokens.Config{
		Issuer:     "trustcore",
		AccessTTL:  tokens.DefaultConfig().AccessTTL,
		RefreshTTL: tokens.DefaultConfig().RefreshTTL,
		ClockSkew:  tokens.DefaultConfig().ClockSkew,
		SigningKey: key,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	id, err := tm.Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Type != tokens.TypeService || id.ServiceName != "billing" || len(id.Permissions) != 2 {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestServiceToken_RequiresName(t *testing.T) {
	if err := run([]string{"service-token"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without -name")
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run([]string{"frobnicate"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}
