package token

import (
	"bytes"
	"testing"
)

func TestHasher_Modes(t *testing.T) {
	plain, err := NewHasher(nil)
	if err != nil {
		t.Fatalf("NewHasher(nil): %v", err)
	}
	if plain.Peppered() {
		t.Fatalf("expected sha256 mode")
	}
	if got := plain.Hash("abc"); got != HashSHA256Hex("abc") || len(got) != 64 {
		t.Fatalf("unexpected sha256 digest: %s", got)
	}

	peppered, err := NewHasher(bytes.Repeat([]byte("k"), MinPepperBytes))
	if err != nil {
		t.Fatalf("NewHasher(pepper): %v", err)
	}
	if !peppered.Peppered() {
		t.Fatalf("expected hmac mode")
	}
	if peppered.Hash("abc") == plain.Hash("abc") {
		t.Fatalf("pepper must change the digest")
	}
	if !peppered.Matches("abc", peppered.Hash("abc")) {
		t.Fatalf("expected match")
	}
	if peppered.Matches("abd", peppered.Hash("abc")) {
		t.Fatalf("expected mismatch")
	}
}

func TestNewHasher_ShortPepper(t *testing.T) {
	if _, err := NewHasher([]byte("short")); err != ErrPepperTooShort {
		t.Fatalf("expected ErrPepperTooShort, got %v", err)
	}
}

func TestNewSecret_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		s, err := NewSecret()
		if err != nil {
			t.Fatalf("NewSecret: %v", err)
		}
		if len(s) != 43 {
			t.Fatalf("unexpected length %d", len(s))
		}
		if seen[s] {
			t.Fatalf("duplicate secret")
		}
		seen[s] = true
	}
}

func TestEqualHex(t *testing.T) {
	if !EqualHex("abcd", "abcd") {
		t.Fatalf("expected equal")
	}
	if EqualHex("abcd", "abce") || EqualHex("abcd", "abc") {
		t.Fatalf("expected not equal")
	}
}
