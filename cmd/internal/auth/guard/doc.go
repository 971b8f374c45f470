// Package guard enforces account-level credential policy.
//
// It owns the lockout state machine (k failures lock the account for a window),
// password change and reset with history-based reuse rejection, and the single-use
// email verification and password reset secrets. Session revocation after a
// credential change or lockout is delegated to a Revoker.
package guard
