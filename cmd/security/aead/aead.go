// Package aead seals small payloads (biometric templates, TOTP secrets) with AES-256-GCM.
//
// Security contract:
//   - Keys are exactly 32 bytes; anything else is rejected at construction.
//   - Every Seal draws a fresh 12-byte IV from crypto/rand.
//   - The 16-byte authentication tag is returned separately so stores can persist the
//     ciphertext triple as distinct columns.
//   - Open never returns plaintext unless the tag verifies; tampering with ciphertext,
//     IV, tag or associated data yields ErrDecrypt.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	KeySize = 32
	IVSize  = 12
	TagSize = 16
)

var (
	ErrKeySize    = errors.New("aead: key must be 32 bytes")
	ErrMalformed  = errors.New("aead: malformed sealed value")
	ErrDecrypt    = errors.New("aead: authentication failed")
	ErrNotEnabled = errors.New("aead: sealer is not configured")
)

// Sealed is the persisted ciphertext triple.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// Sealer encrypts and decrypts with one key. Safe for concurrent use.
type Sealer struct {
	aead cipher.AEAD
}

// New builds a Sealer from a raw 32-byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// NewFromBase64 decodes a standard (padded or raw) base64 key and calls New.
func NewFromBase64(encoded string) (*Sealer, error) {
	encoded = strings.TrimSpace(encoded)
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("aead: decode key: %w", err)
	}
	return New(key)
}

// Seal encrypts plaintext. aad is authenticated but not encrypted; pass the same value to Open.
func (s *Sealer) Seal(plaintext, aad []byte) (Sealed, error) {
	if s == nil || s.aead == nil {
		return Sealed{}, ErrNotEnabled
	}
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Sealed{}, fmt.Errorf("read iv: %w", err)
	}

	out := s.aead.Seal(nil, iv, plaintext, aad)
	n := len(out) - TagSize
	ct := make([]byte, n)
	tag := make([]byte, TagSize)
	copy(ct, out[:n])
	copy(tag, out[n:])
	return Sealed{Ciphertext: ct, IV: iv, Tag: tag}, nil
}

// Open authenticates and decrypts a triple produced by Seal.
func (s *Sealer) Open(in Sealed, aad []byte) ([]byte, error) {
	if s == nil || s.aead == nil {
		return nil, ErrNotEnabled
	}
	if len(in.IV) != IVSize || len(in.Tag) != TagSize {
		return nil, ErrMalformed
	}

	buf := make([]byte, 0, len(in.Ciphertext)+TagSize)
	buf = append(buf, in.Ciphertext...)
	buf = append(buf, in.Tag...)

	pt, err := s.aead.Open(nil, in.IV, buf, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// SealString packs the triple as base64(iv || ciphertext || tag) for single-column storage.
func (s *Sealer) SealString(plaintext string, aad []byte) (string, error) {
	sealed, err := s.Seal([]byte(plaintext), aad)
	if err != nil {
		return "", err
	}
	payload := make([]byte, 0, IVSize+len(sealed.Ciphertext)+TagSize)
	payload = append(payload, sealed.IV...)
	payload = append(payload, sealed.Ciphertext...)
	payload = append(payload, sealed.Tag...)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(encoded string, aad []byte) (string, error) {
	payload, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil || len(payload) < IVSize+TagSize {
		return "", ErrMalformed
	}
	n := len(payload) - TagSize
	pt, err := s.Open(Sealed{
		IV:         payload[:IVSize],
		Ciphertext: payload[IVSize:n],
		Tag:        payload[n:],
	}, aad)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Zero overwrites b in place. Used to drop plaintext vectors once sealed.
func Zero(b []byte) { clear(b) }

// GenerateKey returns a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
