// Package otp issues and checks one-time passcodes.
//
// Redis holds every piece of state (codes, attempt counters and the send throttle)
// and the package relies only on INCR/EXPIRE/DEL atomicity, so any number of
// trustcore replicas can share it. The package also wraps RFC 6238 TOTP for the
// MFA second factor.
package otp
