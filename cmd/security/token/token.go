package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretBytes is the raw entropy behind every opaque token (256 bits).
const SecretBytes = 32

// MinPepperBytes is the minimum accepted HMAC pepper length.
const MinPepperBytes = 32

// Hasher turns raw secrets into storable digests.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	pepper []byte
}

// NewHasher returns a Hasher. An empty pepper selects SHA-256 mode.
func NewHasher(pepper []byte) (Hasher, error) {
	if len(pepper) == 0 {
		return Hasher{}, nil
	}
	if len(pepper) < MinPepperBytes {
		return Hasher{}, ErrPepperTooShort
	}
	cp := make([]byte, len(pepper))
	copy(cp, pepper)
	return Hasher{pepper: cp}, nil
}

// Peppered reports whether HMAC mode is active.
func (h Hasher) Peppered() bool { return len(h.pepper) > 0 }

// Hash returns the hex digest stored for secret.
func (h Hasher) Hash(secret string) string {
	if len(h.pepper) == 0 {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, h.pepper)
}

// Matches compares secret against a stored digest in constant time.
func (h Hasher) Matches(secret, storedHex string) bool {
	return EqualHex(h.Hash(secret), storedHex)
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// EqualHex compares two hex digests in constant time.
// Length mismatches return false without leaking which prefix matched.
func EqualHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// NewSecret returns a URL-safe opaque secret with SecretBytes of entropy.
func NewSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
