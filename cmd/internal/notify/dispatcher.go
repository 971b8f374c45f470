package notify

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Config holds link targets and the per-send timeout.
type Config struct {
	FrontendURL string        `env:"FRONTEND_URL"`
	Timeout     time.Duration `env:"TIMEOUT"`
	// LogReveal prints links and codes in LogSender output. Never enable in production.
	LogReveal bool `env:"LOG_REVEAL"`
}

// DefaultConfig returns a localhost frontend and a 10s timeout.
func DefaultConfig() Config {
	return Config{FrontendURL: "http://localhost:4200", Timeout: 10 * time.Second}
}

// Dispatcher fans deliveries out asynchronously.
type Dispatcher struct {
	cfg    Config
	sender Sender
	alerts []AlertSender
	log    *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher wraps sender. Extra alert sinks (live connections) receive every alert too.
func NewDispatcher(cfg Config, sender Sender, log *slog.Logger, alerts ...AlertSender) *Dispatcher {
	if sender == nil {
		sender = Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	cfg.FrontendURL = strings.TrimRight(strings.TrimSpace(cfg.FrontendURL), "/")
	return &Dispatcher{cfg: cfg, sender: sender, alerts: alerts, log: log}
}

// AddAlertSink registers another alert receiver. Call before serving traffic.
func (d *Dispatcher) AddAlertSink(s AlertSender) {
	if s != nil {
		d.alerts = append(d.alerts, s)
	}
}

func (d *Dispatcher) link(path, token string) string {
	return d.cfg.FrontendURL + path + "?token=" + url.QueryEscape(token)
}

func (d *Dispatcher) goSend(event string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.log.Error(event+".fail", "err", err)
		}
	}()
}

// VerificationEmail sends the email-verification link.
func (d *Dispatcher) VerificationEmail(accountID int64, to, token string) {
	msg := VerificationEmail{AccountID: accountID, To: to, Token: token, Link: d.link("/auth/verify-email", token)}
	d.goSend("notify.email.verify", func(ctx context.Context) error { return d.sender.SendVerificationEmail(ctx, msg) })
}

// PasswordResetEmail sends the password-reset link.
func (d *Dispatcher) PasswordResetEmail(accountID int64, to, token string) {
	msg := PasswordResetEmail{AccountID: accountID, To: to, Token: token, Link: d.link("/auth/reset-password", token)}
	d.goSend("notify.email.reset", func(ctx context.Context) error { return d.sender.SendPasswordResetEmail(ctx, msg) })
}

// SMS sends a text message.
func (d *Dispatcher) SMS(to, body string) {
	msg := SMS{To: to, Body: body}
	d.goSend("notify.sms", func(ctx context.Context) error { return d.sender.SendSMS(ctx, msg) })
}

// SecurityAlert sends the alert to the provider and every alert sink.
func (d *Dispatcher) SecurityAlert(a Alert) {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	d.goSend("notify.alert", func(ctx context.Context) error { return d.sender.SendSecurityAlert(ctx, a) })
	for _, s := range d.alerts {
		d.goSend("notify.alert.sink", func(ctx context.Context) error { return s.SendSecurityAlert(ctx, a) })
	}
}

// Wait blocks until in-flight sends finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
