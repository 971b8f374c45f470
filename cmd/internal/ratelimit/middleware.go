package ratelimit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trustcore/cmd/internal/clientip"
)

// Request classes, used as the metric label.
const (
	ClassGeneral = "general"
	ClassLogin   = "login"
)

// Middleware applies Limiter to every request that is not skipped.
type Middleware struct {
	cfg      Config
	lim      *Limiter
	ips      clientip.Resolver
	log      *slog.Logger
	rejected *prometheus.CounterVec
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClientIP sets how client addresses are resolved (default: RemoteAddr only).
func WithClientIP(r clientip.Resolver) MiddlewareOption {
	return func(m *Middleware) { m.ips = r }
}

// WithRegisterer registers the rejection counter on reg.
// A collector already registered under the same name is reused.
func WithRegisterer(reg prometheus.Registerer) MiddlewareOption {
	return func(m *Middleware) {
		if reg == nil {
			return
		}
		if err := reg.Register(m.rejected); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					m.rejected = existing
				}
			}
		}
	}
}

// NewMiddleware builds the HTTP middleware.
func NewMiddleware(cfg Config, lim *Limiter, opts ...MiddlewareOption) (*Middleware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lim == nil {
		return nil, ErrConfig
	}
	m := &Middleware{
		cfg: cfg,
		lim: lim,
		log: slog.Default(),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"class"}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Rejected exposes the rejection counter (tests and dashboards).
func (m *Middleware) Rejected() *prometheus.CounterVec { return m.rejected }

// Wrap returns next guarded by the limiter.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil || !m.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.cfg.skips(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := m.ips.String(r)
		class, key, limit := ClassGeneral, KeyPrefix+ip, m.cfg.Limit
		if m.cfg.isLogin(r.URL.Path) {
			class, key, limit = ClassLogin, LoginKeyPrefix+ip, m.cfg.LoginLimit
		}

		d, err := m.lim.Allow(r.Context(), key, limit)
		if err != nil {
			// Fail open: throttling precision is not worth an outage.
			m.log.Warn("ratelimit.store_error", "err", err, "class", class)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

		if !d.Allowed {
			m.rejected.WithLabelValues(class).Inc()
			m.log.Warn("ratelimit.reject", "class", class, "ip", ip, "path", r.URL.Path)
			writeRateLimited(w, d.RetryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type rateLimitedBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RetryAfter int `json:"retry_after"`
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	var body rateLimitedBody
	body.Error.Code = "too_many_requests"
	body.Error.Message = "rate limit exceeded, try again later"
	body.RetryAfter = secs

	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(body)
}
