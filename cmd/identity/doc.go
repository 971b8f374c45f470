// Package identity is the account and credential store of trustcore.
//
// It owns:
//   - Account: external UUID + internal numeric key, status machine, lockout fields, verification flags
//   - Credential store: current password hash + bounded credential history (never plaintext)
//   - Roles and permissions, resolved to flat name sets at token issuance
//   - Verification tokens (email verify, password reset): hashed, single-use, expiring
//   - Resolver: cached external UUID -> internal id lookup
//
// Soft-deleted accounts are invisible to every lookup in this package.
package identity
