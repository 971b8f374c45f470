// Package authn composes the account workflows on top of the security components.
//
// Each operation runs the same sequence: check input, call Guard / Registry / OTP, issue
// tokens, then record an audit event and (where the account holder should know) send a
// security alert. Audit and notifications are asynchronous and never change the outcome.
//
// Errors are mapped onto a small set of kinds (see errors.go) so the HTTP layer can
// translate them in one place. Unknown email and wrong password are indistinguishable.
package authn
