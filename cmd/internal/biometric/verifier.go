package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trustcore/cmd/internal/audit"
	"trustcore/cmd/security/aead"
)

// AccountFlags keeps the account's biometric-enabled flag in step with templates.
type AccountFlags interface {
	SetBiometricEnabled(ctx context.Context, accountID int64, enabled bool, now time.Time) error
}

// Result is the outcome reported to the caller.
type Result struct {
	Verified         bool
	Confidence       float64
	LivenessVerified bool
	Message          string
}

// Verifier runs enroll, verify and remove.
type Verifier struct {
	cfg    Config
	store  Store
	engine Engine
	sealer *aead.Sealer
	flags  AccountFlags
	audit  audit.Recorder
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// WithAudit sets the audit recorder (default discard).
func WithAudit(r audit.Recorder) Option {
	return func(v *Verifier) {
		if r != nil {
			v.audit = r
		}
	}
}

// WithClock overrides the clock (tests).
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier wires the workflow. sealer must hold the template key.
func NewVerifier(cfg Config, store Store, engine Engine, sealer *aead.Sealer, flags AccountFlags, opts ...Option) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || engine == nil || sealer == nil || flags == nil {
		return nil, ErrConfig
	}
	v := &Verifier{
		cfg:    cfg,
		store:  store,
		engine: engine,
		sealer: sealer,
		flags:  flags,
		audit:  audit.Discard{},
		log:    slog.Default(),
		tracer: otel.Tracer("trustcore/biometric"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Config returns the active configuration.
func (v *Verifier) Config() Config { return v.cfg }

// Health probes the recognition engine.
func (v *Verifier) Health(ctx context.Context) error { return v.engine.Health(ctx) }

func templateAAD(accountID int64, m Modality) []byte {
	return []byte("account:" + strconv.FormatInt(accountID, 10) + "|" + string(m))
}

func (v *Verifier) checkSample(m Modality, sample string) error {
	if !m.Valid() {
		return fmt.Errorf("%w: unsupported modality", ErrInvalidInput)
	}
	sample = strings.TrimSpace(sample)
	if sample == "" || len(sample) > v.cfg.MaxSampleBytes {
		return fmt.Errorf("%w: sample", ErrInvalidInput)
	}
	return nil
}

func (v *Verifier) record(action string, accountID int64, resourceID string, outcome audit.Outcome, reason string, meta audit.Meta, detail map[string]any) {
	v.audit.Record(audit.Event{
		ActorID:      audit.Account(accountID),
		SubjectID:    audit.Account(accountID),
		Action:       action,
		ResourceType: audit.ResourceBiometric,
		ResourceID:   resourceID,
		Outcome:      outcome,
		Reason:       reason,
		Detail:       detail,
		Meta:         meta,
		At:           v.now(),
	})
}

// Enroll extracts a template from sample, checks liveness and stores it sealed.
func (v *Verifier) Enroll(ctx context.Context, accountID int64, m Modality, sample string, meta audit.Meta) (Result, error) {
	ctx, span := v.tracer.Start(ctx, "biometric.Enroll", trace.WithAttributes(attribute.String("modality", string(m))))
	defer span.End()

	if err := v.checkSample(m, sample); err != nil {
		return Result{}, err
	}

	// Cheap pre-check so an enrolled account does not burn an engine call.
	if _, err := v.store.ActiveTemplate(ctx, accountID, m); err == nil {
		v.record(audit.ActionBiometricEnroll, accountID, "", audit.OutcomeFailure, "already enrolled", meta, nil)
		return Result{}, ErrAlreadyEnrolled
	} else if !errors.Is(err, ErrNotEnrolled) {
		return Result{}, err
	}

	ex, err := v.engine.Extract(ctx, sample)
	if err != nil {
		v.record(audit.ActionBiometricEnroll, accountID, "", audit.OutcomeFailure, failureReason(err), meta, nil)
		return Result{}, err
	}
	defer aead.Zero(ex.Embedding)

	if ex.Liveness < v.cfg.LivenessThreshold {
		v.record(audit.ActionBiometricEnroll, accountID, "", audit.OutcomeFailure, "liveness", meta,
			map[string]any{"liveness": ex.Liveness})
		return Result{}, ErrLiveness
	}

	sealed, err := v.sealer.Seal(ex.Embedding, templateAAD(accountID, m))
	if err != nil {
		return Result{}, fmt.Errorf("biometric.Enroll: seal: %w", err)
	}

	now := v.now()
	t, err := v.store.InsertTemplate(ctx, Template{
		AccountID: accountID,
		Modality:  m,
		Sealed:    sealed,
		Quality:   ex.Quality,
		Liveness:  ex.Liveness,
		CreatedAt: now,
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyEnrolled) {
			v.record(audit.ActionBiometricEnroll, accountID, "", audit.OutcomeFailure, "already enrolled", meta, nil)
		}
		return Result{}, err
	}
	if err := v.flags.SetBiometricEnabled(ctx, accountID, true, now); err != nil {
		return Result{}, fmt.Errorf("biometric.Enroll: flag: %w", err)
	}

	v.record(audit.ActionBiometricEnroll, accountID, strconv.FormatInt(t.ID, 10), audit.OutcomeSuccess, "", meta,
		map[string]any{"quality": ex.Quality, "liveness": ex.Liveness})
	v.log.Info("biometric.enroll.ok", "account_id", accountID, "modality", string(m))

	return Result{
		Verified:         true,
		Confidence:       ex.Quality,
		LivenessVerified: true,
		Message:          "enrolled",
	}, nil
}

// Verify compares a fresh sample against the active template.
// A non-matching face is a Result with Verified=false, not an error.
func (v *Verifier) Verify(ctx context.Context, accountID int64, m Modality, sample string, meta audit.Meta) (Result, error) {
	ctx, span := v.tracer.Start(ctx, "biometric.Verify", trace.WithAttributes(attribute.String("modality", string(m))))
	defer span.End()

	if err := v.checkSample(m, sample); err != nil {
		return Result{}, err
	}

	t, err := v.store.ActiveTemplate(ctx, accountID, m)
	if err != nil {
		if errors.Is(err, ErrNotEnrolled) {
			v.record(audit.ActionBiometricVerify, accountID, "", audit.OutcomeFailure, "not enrolled", meta, nil)
		}
		return Result{}, err
	}
	resourceID := strconv.FormatInt(t.ID, 10)

	probe, err := v.engine.Extract(ctx, sample)
	if err != nil {
		v.record(audit.ActionBiometricVerify, accountID, resourceID, audit.OutcomeFailure, failureReason(err), meta, nil)
		v.countFailure(ctx, t.ID)
		return Result{}, err
	}
	defer aead.Zero(probe.Embedding)

	enrolled, err := v.sealer.Open(t.Sealed, templateAAD(accountID, m))
	if err != nil {
		v.log.Error("biometric.template.open.fail", "account_id", accountID, "template_id", t.ID, "err", err)
		v.record(audit.ActionBiometricVerify, accountID, resourceID, audit.OutcomeFailure, "template corrupt", meta, nil)
		return Result{}, ErrTemplateCorrupt
	}
	defer aead.Zero(enrolled)

	similarity, err := v.engine.Compare(ctx, enrolled, probe.Embedding)
	if err != nil {
		v.record(audit.ActionBiometricVerify, accountID, resourceID, audit.OutcomeFailure, failureReason(err), meta, nil)
		v.countFailure(ctx, t.ID)
		return Result{}, err
	}

	live := probe.Liveness >= v.cfg.LivenessThreshold
	ok := similarity >= v.cfg.VerifyThreshold

	outcome, reason, msg := audit.OutcomeSuccess, "", "verified"
	if !ok {
		outcome, reason, msg = audit.OutcomeFailure, "no match", "face did not match"
	}
	if err := v.store.RecordVerification(ctx, t.ID, ok, v.now()); err != nil {
		v.log.Error("biometric.verify.record.fail", "template_id", t.ID, "err", err)
	}
	v.record(audit.ActionBiometricVerify, accountID, resourceID, outcome, reason, meta,
		map[string]any{"similarity": similarity, "liveness": probe.Liveness})

	return Result{
		Verified:         ok,
		Confidence:       similarity,
		LivenessVerified: live,
		Message:          msg,
	}, nil
}

func (v *Verifier) countFailure(ctx context.Context, templateID int64) {
	if err := v.store.RecordVerification(ctx, templateID, false, v.now()); err != nil {
		v.log.Error("biometric.verify.record.fail", "template_id", templateID, "err", err)
	}
}

// Remove deactivates the template and clears the account flag. Removing nothing is not an error.
func (v *Verifier) Remove(ctx context.Context, accountID int64, m Modality, meta audit.Meta) error {
	if !m.Valid() {
		return fmt.Errorf("%w: unsupported modality", ErrInvalidInput)
	}
	now := v.now()
	existed, err := v.store.Deactivate(ctx, accountID, m, now)
	if err != nil {
		return err
	}
	if err := v.flags.SetBiometricEnabled(ctx, accountID, false, now); err != nil {
		return fmt.Errorf("biometric.Remove: flag: %w", err)
	}
	v.record(audit.ActionBiometricRemove, accountID, "", audit.OutcomeSuccess, "", meta,
		map[string]any{"had_template": existed})
	return nil
}

// IsEnrolled reports whether an active template exists.
func (v *Verifier) IsEnrolled(ctx context.Context, accountID int64, m Modality) (bool, error) {
	_, err := v.store.ActiveTemplate(ctx, accountID, m)
	if errors.Is(err, ErrNotEnrolled) {
		return false, nil
	}
	return err == nil, err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEngineUnavailable):
		return "engine unavailable"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrComparison):
		return "comparison"
	}
	return "error"
}
