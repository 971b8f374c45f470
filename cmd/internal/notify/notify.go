// Package notify delivers account emails, SMS codes and security alerts.
//
// Delivery is fire-and-forget: the Dispatcher runs each send on its own goroutine under a
// timeout, logs failures and never reports them to the operation that triggered the send.
package notify

import (
	"context"
	"time"
)

// AlertKind classifies security alerts.
type AlertKind string

const (
	AlertLockout        AlertKind = "account_locked"
	AlertPasswordChange AlertKind = "password_changed"
	AlertPasswordReset  AlertKind = "password_reset"
	AlertNewDevice      AlertKind = "new_device_login"
	AlertLogoutAll      AlertKind = "logout_all"
	AlertTokenReuse     AlertKind = "refresh_reuse"
	AlertAccountDeleted AlertKind = "account_deleted"
)

// VerificationEmail carries an email-verification link.
type VerificationEmail struct {
	AccountID int64
	To        string
	Token     string
	Link      string
}

// PasswordResetEmail carries a password-reset link.
type PasswordResetEmail struct {
	AccountID int64
	To        string
	Token     string
	Link      string
}

// SMS is a text message, used for OTP delivery.
type SMS struct {
	To   string
	Body string
}

// Alert is a security notice for the account holder.
type Alert struct {
	AccountID int64
	Email     string
	Kind      AlertKind
	Message   string
	DeviceID  string
	At        time.Time
}

// AlertSender receives security alerts. The realtime hub implements it.
type AlertSender interface {
	SendSecurityAlert(ctx context.Context, a Alert) error
}

// Sender is a full delivery provider.
type Sender interface {
	AlertSender
	SendVerificationEmail(ctx context.Context, msg VerificationEmail) error
	SendPasswordResetEmail(ctx context.Context, msg PasswordResetEmail) error
	SendSMS(ctx context.Context, msg SMS) error
}

// Noop drops everything.
type Noop struct{}

func (Noop) SendVerificationEmail(context.Context, VerificationEmail) error   { return nil }
func (Noop) SendPasswordResetEmail(context.Context, PasswordResetEmail) error { return nil }
func (Noop) SendSMS(context.Context, SMS) error                               { return nil }
func (Noop) SendSecurityAlert(context.Context, Alert) error                   { return nil }
