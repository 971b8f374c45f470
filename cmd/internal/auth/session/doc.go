// Package session is trustcore's session registry.
//
// It tracks one DeviceSession per (account, device) and the refresh tokens issued
// to that device. Refresh tokens are EdDSA-signed JWTs minted by package tokens,
// but the registry only ever stores their digest (SHA-256, or HMAC-SHA256 when a
// pepper is configured).
//
// Invariants:
//   - at most one live refresh token per (account, device)
//   - rotation is single-use: the old token is revoked in the same tx that inserts the new one
//   - revocation is permanent; there is no un-revoke
//   - logout-all takes the account row lock that rotation shares, so a concurrent
//     refresh either commits first (and its new token is then revoked) or fails
//
// Transport (HTTP/WS) integration lives in package api.
package session
