package authn

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/audit"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/internal/notify"
	"trustcore/cmd/internal/otp"
	"trustcore/cmd/security/aead"
)

// Deps are the collaborators of a Service. OTP, MFASealer, Notify and Audit are optional.
type Deps struct {
	Accounts identity.Store
	Resolver *identity.Resolver
	Guard    *guard.Guard
	Sessions *session.Registry
	Tokens   *tokens.Manager

	OTP       *otp.Service
	MFASealer *aead.Sealer
	Notify    *notify.Dispatcher
	Audit     audit.Recorder
}

// Service runs the account workflows.
type Service struct {
	accounts identity.Store
	resolver *identity.Resolver
	guard    *guard.Guard
	sessions *session.Registry
	tokens   *tokens.Manager
	otp      *otp.Service
	mfa      *aead.Sealer
	notify   *notify.Dispatcher
	audit    audit.Recorder

	log     *slog.Logger
	tracer  trace.Tracer
	metrics metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the clock (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRegisterer registers the login counter on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) { s.metrics.register(reg) }
}

// New wires a Service.
func New(d Deps, opts ...Option) (*Service, error) {
	if d.Accounts == nil || d.Guard == nil || d.Sessions == nil || d.Tokens == nil {
		return nil, ErrConfig
	}
	s := &Service{
		accounts: d.Accounts,
		resolver: d.Resolver,
		guard:    d.Guard,
		sessions: d.Sessions,
		tokens:   d.Tokens,
		otp:      d.OTP,
		mfa:      d.MFASealer,
		notify:   d.Notify,
		audit:    d.Audit,
		log:      slog.Default(),
		tracer:   otel.Tracer("trustcore/authn"),
		metrics:  newMetrics(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.resolver == nil {
		s.resolver = identity.NewResolver(d.Accounts)
	}
	if s.notify == nil {
		s.notify = notify.NewDispatcher(notify.DefaultConfig(), notify.Noop{}, s.log)
	}
	if s.audit == nil {
		s.audit = audit.Discard{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Principal is an authenticated account, resolved from an access token.
type Principal struct {
	AccountID   int64
	Subject     uuid.UUID
	DeviceID    string
	Roles       []string
	Permissions []string
}

// AccountSummary is the public view of an account.
type AccountSummary struct {
	UUID             uuid.UUID
	Email            string
	Phone            *string
	DisplayName      *string
	Status           identity.Status
	EmailVerified    bool
	PhoneVerified    bool
	MFAEnabled       bool
	BiometricEnabled bool
	Roles            []string
}

// AuthResult is returned by every operation that signs a device in.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64
	RefreshExpiresAt time.Time
	DeviceID         string
	Account          AccountSummary
}

// DeviceInput is what a client says about itself on sign-in.
type DeviceInput struct {
	ID         string
	Name       string
	Platform   string
	RememberMe bool
}

func (s *Service) device(in DeviceInput, meta audit.Meta) session.Device {
	dev := session.Device{
		ID:         in.ID,
		Name:       in.Name,
		Platform:   session.ParsePlatform(in.Platform),
		RememberMe: in.RememberMe,
		UserAgent:  meta.UserAgent,
	}
	if dev.ID == "" {
		dev.ID = meta.DeviceID
	}
	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	if meta.IP != nil {
		dev.IP = meta.IP.String()
	}
	return dev
}

// Authorize turns a verified access token into a Principal.
// Refresh and service tokens are rejected; service callers are handled by the HTTP layer.
func (s *Service) Authorize(ctx context.Context, id tokens.Identity) (Principal, error) {
	if id.Type != tokens.TypeAccess {
		return Principal{}, ErrInvalidToken
	}
	sub, err := uuid.Parse(id.Subject)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	accountID, err := s.resolver.Resolve(ctx, sub)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	return Principal{
		AccountID:   accountID,
		Subject:     sub,
		DeviceID:    id.DeviceID,
		Roles:       id.Roles,
		Permissions: id.Permissions,
	}, nil
}

// issuePair signs an access token for acc and registers a refresh token for dev.
func (s *Service) issuePair(ctx context.Context, acc identity.Account, dev session.Device, now time.Time) (AuthResult, error) {
	grants, err := s.accounts.Grants(ctx, acc.ID)
	if err != nil {
		return AuthResult{}, err
	}
	refresh, err := s.sessions.IssueForLogin(ctx, acc.ID, acc.UUID.String(), dev, now)
	if err != nil {
		return AuthResult{}, err
	}
	return s.withAccess(acc, grants, dev.ID, refresh, now)
}

func (s *Service) withAccess(acc identity.Account, grants identity.Grants, deviceID string, refresh tokens.Issued, now time.Time) (AuthResult, error) {
	access, err := s.tokens.IssueAccess(acc.UUID.String(), deviceID, grants.Roles, grants.Permissions, now)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.tokens.AccessTTL() / time.Second),
		RefreshExpiresAt: refresh.ExpiresAt,
		DeviceID:         deviceID,
		Account:          summarize(acc, grants),
	}, nil
}

func summarize(acc identity.Account, grants identity.Grants) AccountSummary {
	return AccountSummary{
		UUID:             acc.UUID,
		Email:            acc.Email,
		Phone:            acc.Phone,
		DisplayName:      acc.DisplayName,
		Status:           acc.Status,
		EmailVerified:    acc.EmailVerified,
		PhoneVerified:    acc.PhoneVerified,
		MFAEnabled:       acc.MFAEnabled,
		BiometricEnabled: acc.BiometricEnabled,
		Roles:            grants.Roles,
	}
}

// Me returns the caller's account summary.
func (s *Service) Me(ctx context.Context, p Principal) (AccountSummary, error) {
	acc, err := s.accounts.GetAccountByID(ctx, p.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			return AccountSummary{}, ErrInvalidToken
		}
		return AccountSummary{}, err
	}
	grants, err := s.accounts.Grants(ctx, acc.ID)
	if err != nil {
		return AccountSummary{}, err
	}
	return summarize(acc, grants), nil
}

func (s *Service) record(action, resource string, accountID int64, outcome audit.Outcome, reason string, meta audit.Meta, detail map[string]any) {
	s.audit.Record(audit.Event{
		ActorID:      audit.Account(accountID),
		SubjectID:    audit.Account(accountID),
		Action:       action,
		ResourceType: resource,
		Outcome:      outcome,
		Reason:       reason,
		Detail:       detail,
		Meta:         meta,
		At:           s.now(),
	})
}

func (s *Service) alert(acc identity.Account, kind notify.AlertKind, msg, deviceID string) {
	s.notify.SecurityAlert(notify.Alert{
		AccountID: acc.ID,
		Email:     acc.Email,
		Kind:      kind,
		Message:   msg,
		DeviceID:  deviceID,
		At:        s.now(),
	})
}

func (s *Service) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "authn."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed")
	}
	span.End()
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }
