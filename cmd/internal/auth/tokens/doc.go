// Package tokens mints and verifies trustcore's signed tokens.
//
// Three token classes share one EdDSA (Ed25519) signed JWT format:
//   - access: short TTL, carries device id, roles and permissions
//   - refresh: long TTL, minimal claims plus a unique jti; stored server-side only as a hash
//   - service: for trusted internal callers, carries an explicit permission list
//
// Verification is purely computational: no store is consulted. It fails closed with
// distinct error kinds (expired, bad signature, malformed, bad claims) that all wrap
// ErrInvalidToken. Rejecting a valid token of the wrong type is the caller's job.
package tokens
