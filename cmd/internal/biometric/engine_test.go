package biometric

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engineConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.EngineURL = url
	cfg.EngineAPIKey = "k-123"
	return cfg
}

func TestHTTPEngine_ExtractAndCompare(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-123", r.Header.Get("X-API-Key"))
		switch r.URL.Path {
		case extractPath:
			var in extractRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.True(t, in.DetectLiveness)
			assert.Equal(t, "aW1n", in.Image)
			_, _ = w.Write([]byte(`{"success":true,"embedding":"0.1,0.2","livenessScore":0.97,"qualityScore":0.8}`))
		case comparePath:
			var in compareRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "a", in.Embedding1)
			assert.Equal(t, "b", in.Embedding2)
			_, _ = w.Write([]byte(`{"success":true,"similarity":0.91}`))
		case healthPath:
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(engineConfig(srv.URL), WithEngineRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ex, err := e.Extract(context.Background(), "aW1n")
	require.NoError(t, err)
	assert.Equal(t, []byte("0.1,0.2"), ex.Embedding)
	assert.InDelta(t, 0.97, ex.Liveness, 1e-9)
	assert.InDelta(t, 0.8, ex.Quality, 1e-9)

	sim, err := e.Compare(context.Background(), []byte("a"), []byte("b"))
	require.NoError(t, err)
	assert.InDelta(t, 0.91, sim, 1e-9)

	require.NoError(t, e.Health(context.Background()))
}

func TestHTTPEngine_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case extractPath:
			_, _ = w.Write([]byte(`{"success":false,"error":"no face"}`))
		case comparePath:
			w.WriteHeader(http.StatusBadGateway)
		case healthPath:
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
		}
	}))
	defer srv.Close()

	e, err := NewHTTPEngine(engineConfig(srv.URL))
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), "x")
	require.ErrorIs(t, err, ErrExtraction)
	require.ErrorIs(t, err, ErrBiometricFailure)

	_, err = e.Compare(context.Background(), []byte("a"), []byte("b"))
	require.ErrorIs(t, err, ErrEngineUnavailable)

	require.ErrorIs(t, e.Health(context.Background()), ErrEngineUnavailable)
}

func TestHTTPEngine_TimeoutIsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := engineConfig(srv.URL)
	cfg.CompareTimeout = 50 * time.Millisecond
	e, err := NewHTTPEngine(cfg)
	require.NoError(t, err)

	start := time.Now()
	_, err = e.Compare(context.Background(), []byte("a"), []byte("b"))
	require.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPEngine_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e, err := NewHTTPEngine(engineConfig(url))
	require.NoError(t, err)
	_, err = e.Extract(context.Background(), "x")
	require.ErrorIs(t, err, ErrEngineUnavailable)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.EngineURL = "ftp://engine"
	require.ErrorIs(t, cfg.Validate(), ErrConfig)

	cfg = DefaultConfig()
	cfg.VerifyThreshold = 1.5
	require.ErrorIs(t, cfg.Validate(), ErrConfig)

	t.Setenv("TRUSTCORE_BIOMETRIC_VERIFY_THRESHOLD", "0.8")
	t.Setenv("TRUSTCORE_BIOMETRIC_COMPARE_TIMEOUT", "15s")
	got, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got.VerifyThreshold, 1e-9)
	assert.Equal(t, 15*time.Second, got.CompareTimeout)
}
