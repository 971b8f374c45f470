// Package password provides credential hashing and verification for trustcore.
//
// Two schemes are supported:
// - bcrypt (default, cost 12), the work-factor hash used for new credentials
// - Argon2id in a PHC-like encoded string, accepted on verify and selectable for new hashes
//
// Verify dispatches on the encoded prefix, so history entries written under either
// scheme remain comparable after a scheme switch.
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
// - Argon2id verification refuses parameters that exceed reasonable bounds.
// - Plaintext is never logged or returned.
package password
