// Package audit records security events without ever blocking the operation that emits them.
//
// Events go into a bounded channel drained by one background worker that hands batches to a
// Writer. When the channel is full the NEWEST event is dropped and counted; producers never
// wait. Writer failures are logged and swallowed.
package audit

import (
	"context"
	"net"
	"strings"
	"time"
)

// Outcome of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeBlocked Outcome = "blocked"
)

// Actions. Names are stable: dashboards and retention jobs key on them.
const (
	ActionRegister        = "REGISTER"
	ActionLogin           = "LOGIN"
	ActionLogout          = "LOGOUT"
	ActionLogoutAll       = "LOGOUT_ALL"
	ActionRefresh         = "TOKEN_REFRESH"
	ActionRefreshReuse    = "TOKEN_REUSE"
	ActionEmailVerify     = "EMAIL_VERIFY"
	ActionPasswordForgot  = "PASSWORD_RESET_REQUEST"
	ActionPasswordReset   = "PASSWORD_RESET"
	ActionPasswordChange  = "PASSWORD_CHANGE"
	ActionSessionRevoke   = "SESSION_REVOKE"
	ActionAccountDelete   = "ACCOUNT_DELETE"
	ActionAccountLock     = "ACCOUNT_LOCK"
	ActionMFAEnroll       = "MFA_ENROLL"
	ActionMFAConfirm      = "MFA_CONFIRM"
	ActionOTPSend         = "OTP_SEND"
	ActionOTPVerify       = "OTP_VERIFY"
	ActionBiometricEnroll = "BIOMETRIC_ENROLL"
	ActionBiometricVerify = "BIOMETRIC_VERIFY"
	ActionBiometricRemove = "BIOMETRIC_REMOVE"
)

// Resource types.
const (
	ResourceAuth      = "AUTH"
	ResourceAccount   = "ACCOUNT"
	ResourceSession   = "SESSION"
	ResourceBiometric = "BIOMETRIC"
	ResourceOTP       = "OTP"
)

// Meta is the request context attached to an event.
type Meta struct {
	IP        net.IP
	UserAgent string
	DeviceID  string
}

// Event is one append-only audit record.
// Detail must never carry passwords, raw tokens, codes or biometric vectors.
type Event struct {
	ID           string
	ActorID      *int64
	SubjectID    *int64
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      Outcome
	Reason       string
	Detail       map[string]any
	Meta         Meta
	At           time.Time
}

// Recorder is what security components depend on.
type Recorder interface {
	Record(e Event)
}

// Writer persists batches of events.
type Writer interface {
	WriteEvents(ctx context.Context, events []Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(Event) {}

// Account returns a pointer to id, or nil for id <= 0. Shorthand for Event fields.
func Account(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func (e Event) normalized(now time.Time) Event {
	e.Action = strings.TrimSpace(e.Action)
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	if e.At.IsZero() {
		e.At = now
	}
	e.At = e.At.UTC()
	e.Meta.UserAgent = strings.TrimSpace(e.Meta.UserAgent)
	e.Meta.DeviceID = strings.TrimSpace(e.Meta.DeviceID)
	return e
}
