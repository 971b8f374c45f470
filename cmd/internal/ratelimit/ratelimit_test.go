package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLimiter_NPlusOneRejectedThenWindowResets(t *testing.T) {
	mr, rdb := newRedis(t)
	lim, err := NewLimiter(rdb, time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := lim.Allow(ctx, "rate_limit:1.2.3.4", 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "hit %d", i)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := lim.Allow(ctx, "rate_limit:1.2.3.4", 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 3, d.Limit)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, d.RetryAfter, time.Minute)

	mr.FastForward(61 * time.Second)

	d, err = lim.Allow(ctx, "rate_limit:1.2.3.4", 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestLimiter_FirstHitSetsWindowTTL(t *testing.T) {
	mr, rdb := newRedis(t)
	lim, err := NewLimiter(rdb, 30*time.Second)
	require.NoError(t, err)

	_, err = lim.Allow(context.Background(), "k", 10)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, mr.TTL("k"))

	mr.FastForward(10 * time.Second)
	_, err = lim.Allow(context.Background(), "k", 10)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, mr.TTL("k"), "later hits keep the original window")
}

func TestLimiter_HealsKeyWithoutExpiry(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("k", "7"))
	lim, err := NewLimiter(rdb, time.Minute)
	require.NoError(t, err)

	_, err = lim.Allow(context.Background(), "k", 10)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestLimiter_InvalidInput(t *testing.T) {
	_, rdb := newRedis(t)
	_, err := NewLimiter(nil, time.Minute)
	require.ErrorIs(t, err, ErrConfig)
	_, err = NewLimiter(rdb, 0)
	require.ErrorIs(t, err, ErrConfig)

	lim, err := NewLimiter(rdb, time.Minute)
	require.NoError(t, err)
	_, err = lim.Allow(context.Background(), " ", 1)
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = lim.Allow(context.Background(), "k", 0)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func newTestMiddleware(t *testing.T, rdb redis.Cmdable, cfg Config) *Middleware {
	t.Helper()
	lim, err := NewLimiter(rdb, cfg.Window)
	require.NoError(t, err)
	m, err := NewMiddleware(cfg, lim, WithLogger(quietLogger()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	return m
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
}

func do(h http.Handler, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_LoginClassIsStricter(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := DefaultConfig()
	cfg.Limit = 10
	cfg.LoginLimit = 2
	m := newTestMiddleware(t, rdb, cfg)
	h := m.Wrap(okHandler())

	for i := 0; i < 2; i++ {
		rec := do(h, "/v1/auth/login", "198.51.100.1:4000")
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	rec := do(h, "/v1/auth/login", "198.51.100.1:4000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"too_many_requests"`)

	// General budget is untouched by login traffic.
	rec = do(h, "/v1/users/me/sessions", "198.51.100.1:4000")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))

	// Another client has its own counter.
	rec = do(h, "/v1/auth/login", "198.51.100.2:4000")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected().WithLabelValues(ClassLogin)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Rejected().WithLabelValues(ClassGeneral)))
}

func TestMiddleware_SkipsHealthPaths(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := DefaultConfig()
	cfg.Limit = 1
	h := newTestMiddleware(t, rdb, cfg).Wrap(okHandler())

	for i := 0; i < 3; i++ {
		rec := do(h, "/healthz", "198.51.100.1:1")
		require.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
	assert.Empty(t, mr.Keys())
}

func TestMiddleware_FailsOpenWhenStoreDown(t *testing.T) {
	mr, rdb := newRedis(t)
	cfg := DefaultConfig()
	cfg.Limit = 1
	h := newTestMiddleware(t, rdb, cfg).Wrap(okHandler())
	mr.Close()

	for i := 0; i < 3; i++ {
		rec := do(h, "/v1/auth/refresh", "198.51.100.1:1")
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestMiddleware_Disabled(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.Limit = 1
	h := newTestMiddleware(t, rdb, cfg).Wrap(okHandler())
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusNoContent, do(h, "/x", "198.51.100.1:1").Code)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TRUSTCORE_RATELIMIT_REQUESTS_PER_WINDOW", "50")
	t.Setenv("TRUSTCORE_RATELIMIT_LOGIN_PATHS", "/a,/b")
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Limit)
	assert.Equal(t, []string{"/a", "/b"}, cfg.LoginPaths)
	assert.Equal(t, 5, cfg.LoginLimit)

	t.Setenv("TRUSTCORE_RATELIMIT_WINDOW", "soon")
	_, err = LoadConfigFromEnv()
	require.ErrorIs(t, err, ErrConfig)
}
