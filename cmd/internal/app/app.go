// Package app wires the trustcore server runtime: config, logging, storage, HTTP routes,
// the alert channel and background jobs.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"trustcore/cmd/identity"
	"trustcore/cmd/internal/audit"
	authapi "trustcore/cmd/internal/auth/api"
	"trustcore/cmd/internal/auth/authn"
	"trustcore/cmd/internal/auth/guard"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/auth/tokens"
	"trustcore/cmd/internal/biometric"
	"trustcore/cmd/internal/notify"
	"trustcore/cmd/internal/otp"
	"trustcore/cmd/internal/ratelimit"
	"trustcore/cmd/internal/realtime"
	"trustcore/cmd/security/aead"
	"trustcore/cmd/security/token"
)

// App is the trustcore server runtime. It owns every long-lived resource.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool
	rdb  *redis.Client
	reg  *prometheus.Registry

	auth     *authn.Service
	api      *authapi.Handler
	bio      *biometric.Verifier
	ws       *realtime.WSGateway
	limiter  *ratelimit.Middleware
	sink     *audit.Sink
	dispatch *notify.Dispatcher

	closers []func(context.Context) error
}

// stores groups the persistence backends chosen at startup.
type stores struct {
	accounts  identity.Store
	sessions  session.Store
	templates biometric.Store
	audit     audit.Writer
}

// New constructs a fully wired App. On error every resource opened so far is released.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a = &App{cfg: cfg, log: log, reg: newRegistry()}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL != "" {
		a.rdb, err = NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.rdb.Close() })
		log.Info("redis.enabled")
	} else {
		log.Warn("redis.disabled", "effect", "otp and rate limiting unavailable")
	}

	tm, err := a.tokenManager()
	if err != nil {
		return nil, err
	}

	hasher, err := token.NewHasher([]byte(cfg.TokenHashPepper))
	if err != nil {
		return nil, err
	}

	a.sink = audit.NewSink(st.audit, cfg.Audit, audit.WithLogger(log), audit.WithRegisterer(a.reg))
	if err := a.sink.Start(); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.sink.Close)

	hub := realtime.NewHub(log)
	a.dispatch = notify.NewDispatcher(cfg.Notify, notify.LogSender{Log: log, Reveal: cfg.Notify.LogReveal}, log, hub)
	a.closers = append(a.closers, a.dispatch.Wait)

	registry, err := session.NewRegistry(cfg.Session, st.sessions, tm, hasher, session.WithLogger(log))
	if err != nil {
		return nil, err
	}
	g, err := guard.New(cfg.Guard, st.accounts, cfg.Password, hasher, registry, guard.WithLogger(log))
	if err != nil {
		return nil, err
	}

	var otps *otp.Service
	if a.rdb != nil {
		if otps, err = otp.New(a.rdb, cfg.OTP, otp.WithLogger(log)); err != nil {
			return nil, err
		}
	}

	mfa, err := a.mfaSealer()
	if err != nil {
		return nil, err
	}

	a.auth, err = authn.New(authn.Deps{
		Accounts:  st.accounts,
		Resolver:  identity.NewResolver(st.accounts),
		Guard:     g,
		Sessions:  registry,
		Tokens:    tm,
		OTP:       otps,
		MFASealer: mfa,
		Notify:    a.dispatch,
		Audit:     a.sink,
	}, authn.WithLogger(log), authn.WithRegisterer(a.reg))
	if err != nil {
		return nil, err
	}

	var opts []authapi.HandlerOption
	if cfg.Biometric.Enabled {
		if a.bio, err = a.biometricVerifier(st); err != nil {
			return nil, err
		}
		opts = append(opts, authapi.WithBiometric(a.bio))
	}

	a.api, err = authapi.NewHandler(log, cfg.API, a.auth, tm, opts...)
	if err != nil {
		return nil, err
	}

	a.ws, err = realtime.NewWSGateway(log, hub, cfg.WS, a.wsAuthenticator(tm))
	if err != nil {
		return nil, err
	}

	if a.rdb != nil && cfg.RateLimit.Enabled {
		lim, err := ratelimit.NewLimiter(a.rdb, cfg.RateLimit.Window)
		if err != nil {
			return nil, err
		}
		a.limiter, err = ratelimit.NewMiddleware(cfg.RateLimit, lim,
			ratelimit.WithLogger(log),
			ratelimit.WithClientIP(a.api.ClientIP()),
			ratelimit.WithRegisterer(a.reg),
		)
		if err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		accounts := identity.NewMemoryStore()
		return stores{
			accounts:  accounts,
			sessions:  session.NewMemoryStore(accounts),
			templates: biometric.NewMemoryStore(),
			audit:     audit.LogWriter{Log: a.log},
		}, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return stores{}, fmt.Errorf("db: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

	if err := migrate(ctx, pool, a.cfg, a.log); err != nil {
		return stores{}, fmt.Errorf("migrate: %w", err)
	}

	accounts, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	templates, err := biometric.NewPostgresStore(pool, a.cfg.DBSchema)
	if err != nil {
		return stores{}, err
	}
	writer, err := audit.NewPostgresWriter(pool, a.cfg.DBSchema)
	if err != nil {
		return stores{}, err
	}
	return stores{accounts: accounts, sessions: sessions, templates: templates, audit: writer}, nil
}

// tokenManager builds the signer. Outside production a missing key gets an ephemeral one,
// which invalidates every token on restart.
func (a *App) tokenManager() (*tokens.Manager, error) {
	cfg := a.cfg.Tokens
	if cfg.SigningKey == "" {
		key, err := tokens.GenerateSigningKey()
		if err != nil {
			return nil, err
		}
		cfg.SigningKey = key
		a.log.Warn("token.signing_key.ephemeral")
	}
	return tokens.NewManagerFromConfig(cfg)
}

func (a *App) mfaSealer() (*aead.Sealer, error) {
	if a.cfg.MFAKey == "" {
		a.log.Warn("mfa.disabled", "reason", "TRUSTCORE_MFA_KEY not set")
		return nil, nil
	}
	return aead.NewFromBase64(a.cfg.MFAKey)
}

func (a *App) biometricVerifier(st stores) (*biometric.Verifier, error) {
	sealer, err := aead.NewFromBase64(a.cfg.BiometricKey)
	if err != nil {
		return nil, err
	}
	engine, err := biometric.NewHTTPEngine(a.cfg.Biometric,
		biometric.WithEngineLogger(a.log),
		biometric.WithEngineRegisterer(a.reg),
	)
	if err != nil {
		return nil, err
	}
	flags, ok := st.accounts.(biometric.AccountFlags)
	if !ok {
		return nil, errors.New("biometric: account store cannot track the enabled flag")
	}
	return biometric.NewVerifier(a.cfg.Biometric, st.templates, engine, sealer, flags,
		biometric.WithLogger(a.log),
		biometric.WithAudit(a.sink),
	)
}

// wsAuthenticator accepts the same access tokens as the HTTP API.
func (a *App) wsAuthenticator(tm *tokens.Manager) realtime.Authenticator {
	return func(ctx context.Context, raw string) (realtime.Peer, error) {
		if raw == "" {
			return realtime.Peer{}, realtime.ErrUnauthenticated
		}
		id, err := tm.Verify(raw)
		if err != nil {
			return realtime.Peer{}, realtime.ErrUnauthenticated
		}
		p, err := a.auth.Authorize(ctx, id)
		if err != nil {
			return realtime.Peer{}, realtime.ErrUnauthenticated
		}
		return realtime.Peer{AccountID: p.AccountID, DeviceID: p.DeviceID}, nil
	}
}

// Handler returns the full middleware chain around the route table.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	if a.limiter != nil {
		h = a.limiter.Wrap(h)
	}
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and the purge job, and blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"url", base,
		"ws", wsBaseURL(base)+"/ws/alerts",
		"db_enabled", a.pool != nil,
		"redis_enabled", a.rdb != nil,
		"biometric_enabled", a.bio != nil,
	)

	jobCtx, stopJobs := context.WithCancel(ctx)
	defer stopJobs()
	go a.purgeLoop(jobCtx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}
	stopJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}
	a.close(shutdownCtx)

	a.log.Info("server.stopped")
	return runErr
}

// purgeLoop drops expired and revoked refresh tokens on every PurgeInterval tick.
func (a *App) purgeLoop(ctx context.Context) {
	t := time.NewTicker(a.cfg.PurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.purgeOnce(ctx)
		}
	}
}

func (a *App) purgeOnce(ctx context.Context) {
	n, err := a.auth.PurgeExpired(ctx)
	if err != nil {
		a.log.Error("session.purge.fail", "err", err)
		return
	}
	a.log.Info("session.purge.ok", "deleted", n)
}

// close releases resources in reverse order of acquisition.
func (a *App) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}
	a.closers = nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
