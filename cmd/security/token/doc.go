// Package token provides opaque secret generation and one-way hashing for trustcore.
//
// It is the single source of truth for how refresh tokens, email verification tokens and
// password reset tokens are represented at rest: only a 64-char hex digest is stored, never
// the raw secret.
//
// Modes:
// - SHA-256(secret) when no pepper is configured.
// - HMAC-SHA256(secret, pepper) when TRUSTCORE_TOKEN_HASH_PEPPER is set.
package token
