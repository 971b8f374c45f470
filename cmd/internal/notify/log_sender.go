package notify

import (
	"context"
	"log/slog"
	"strings"
)

// LogSender writes deliveries to the log instead of a provider. Intended for development.
//
// Security contract:
//   - Tokens, links and SMS bodies are logged only when Reveal is set (local dev); otherwise
//     only the recipient is recorded, masked.
type LogSender struct {
	Log    *slog.Logger
	Reveal bool
}

func (s LogSender) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s LogSender) SendVerificationEmail(ctx context.Context, msg VerificationEmail) error {
	args := []any{"account_id", msg.AccountID, "to", Mask(msg.To)}
	if s.Reveal {
		args = append(args, "link", msg.Link)
	}
	s.logger().InfoContext(ctx, "notify.email.verify", args...)
	return nil
}

func (s LogSender) SendPasswordResetEmail(ctx context.Context, msg PasswordResetEmail) error {
	args := []any{"account_id", msg.AccountID, "to", Mask(msg.To)}
	if s.Reveal {
		args = append(args, "link", msg.Link)
	}
	s.logger().InfoContext(ctx, "notify.email.reset", args...)
	return nil
}

func (s LogSender) SendSMS(ctx context.Context, msg SMS) error {
	args := []any{"to", Mask(msg.To)}
	if s.Reveal {
		args = append(args, "body", msg.Body)
	}
	s.logger().InfoContext(ctx, "notify.sms", args...)
	return nil
}

func (s LogSender) SendSecurityAlert(ctx context.Context, a Alert) error {
	s.logger().InfoContext(ctx, "notify.alert", "account_id", a.AccountID, "kind", string(a.Kind), "to", Mask(a.Email))
	return nil
}

// Mask keeps the first character and the domain (or last two digits) of a recipient.
func Mask(to string) string {
	to = strings.TrimSpace(to)
	if to == "" {
		return ""
	}
	if at := strings.LastIndexByte(to, '@'); at > 0 {
		return to[:1] + "***" + to[at:]
	}
	if len(to) <= 2 {
		return "**"
	}
	return "***" + to[len(to)-2:]
}
