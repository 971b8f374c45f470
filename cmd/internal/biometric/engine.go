package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Extraction is what the engine returns for one raw sample.
// Embedding is plaintext; callers zero it once sealed or compared.
type Extraction struct {
	Embedding []byte
	Liveness  float64
	Quality   float64
}

// Engine is the recognition engine boundary.
type Engine interface {
	Extract(ctx context.Context, sample string) (Extraction, error)
	Compare(ctx context.Context, a, b []byte) (float64, error)
	Health(ctx context.Context) error
}

const (
	extractPath = "/api/v1/face/extract"
	comparePath = "/api/v1/face/compare"
	healthPath  = "/health"

	maxEngineResponse = 1 << 20
)

// HTTPEngine talks JSON to the recognition service.
type HTTPEngine struct {
	base    string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	cfg     Config
	log     *slog.Logger
	tracer  trace.Tracer
	latency *prometheus.HistogramVec
}

// EngineOption configures an HTTPEngine.
type EngineOption func(*HTTPEngine)

// WithHTTPClient overrides the transport (tests).
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *HTTPEngine) {
		if c != nil {
			e.client = c
		}
	}
}

// WithEngineLogger sets the structured logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *HTTPEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEngineRegisterer registers the call latency histogram on reg.
func WithEngineRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *HTTPEngine) {
		if reg == nil {
			return
		}
		if err := reg.Register(e.latency); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					e.latency = existing
				}
			}
		}
	}
}

// NewHTTPEngine builds the client from cfg.
func NewHTTPEngine(cfg Config, opts ...EngineOption) (*HTTPEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.EngineURL), "/")
	if base == "" {
		return nil, ErrConfig
	}
	e := &HTTPEngine{
		base:    base,
		apiKey:  cfg.EngineAPIKey,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(cfg.EngineRPS), cfg.EngineBurst),
		cfg:     cfg,
		log:     slog.Default(),
		tracer:  otel.Tracer("trustcore/biometric"),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trustcore",
			Subsystem: "biometric",
			Name:      "engine_seconds",
			Help:      "Recognition engine call latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"call"}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

type extractRequest struct {
	Image          string `json:"image"`
	DetectLiveness bool   `json:"detect_liveness"`
}

type extractResponse struct {
	Success       bool    `json:"success"`
	Embedding     string  `json:"embedding"`
	LivenessScore float64 `json:"livenessScore"`
	QualityScore  float64 `json:"qualityScore"`
	Error         string  `json:"error"`
}

type compareRequest struct {
	Embedding1 string `json:"embedding1"`
	Embedding2 string `json:"embedding2"`
}

type compareResponse struct {
	Success    bool    `json:"success"`
	Similarity float64 `json:"similarity"`
	Error      string  `json:"error"`
}

// Extract runs face detection, embedding and liveness on a base64 image.
func (e *HTTPEngine) Extract(ctx context.Context, sample string) (Extraction, error) {
	var resp extractResponse
	if err := e.call(ctx, "extract", extractPath, e.cfg.ExtractTimeout, extractRequest{Image: sample, DetectLiveness: true}, &resp); err != nil {
		return Extraction{}, err
	}
	if !resp.Success || resp.Embedding == "" {
		e.log.Warn("biometric.engine.extract.rejected", "engine_error", resp.Error)
		return Extraction{}, ErrExtraction
	}
	return Extraction{
		Embedding: []byte(resp.Embedding),
		Liveness:  resp.LivenessScore,
		Quality:   resp.QualityScore,
	}, nil
}

// Compare returns the similarity of two embeddings in [0, 1].
func (e *HTTPEngine) Compare(ctx context.Context, a, b []byte) (float64, error) {
	var resp compareResponse
	if err := e.call(ctx, "compare", comparePath, e.cfg.CompareTimeout, compareRequest{Embedding1: string(a), Embedding2: string(b)}, &resp); err != nil {
		return 0, err
	}
	if !resp.Success {
		e.log.Warn("biometric.engine.compare.rejected", "engine_error", resp.Error)
		return 0, ErrComparison
	}
	return resp.Similarity, nil
}

// Health reports nil when the engine answers {"status":"ok"}.
func (e *HTTPEngine) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.base+healthPath, nil)
	if err != nil {
		return fmt.Errorf("biometric.Health: %w", err)
	}
	e.authorize(req)
	res, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer res.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrEngineUnavailable, res.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxEngineResponse)).Decode(&body); err != nil || body.Status != "ok" {
		return ErrEngineUnavailable
	}
	return nil
}

func (e *HTTPEngine) authorize(req *http.Request) {
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}
}

// call posts in as JSON and decodes into out.
//
// English comment:
//   - The timeout covers limiter wait, request and body read.
//   - Transport errors, timeouts and non-2xx map to ErrEngineUnavailable.
func (e *HTTPEngine) call(ctx context.Context, name, path string, timeout time.Duration, in, out any) (err error) {
	ctx, span := e.tracer.Start(ctx, "biometric.engine."+name, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "engine call failed")
		}
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("biometric.%s: encode: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("biometric.%s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)

	start := time.Now()
	res, err := e.client.Do(req)
	e.latency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		e.log.Error("biometric.engine.fail", "call", name, "err", err)
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer res.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxEngineResponse))
		e.log.Error("biometric.engine.status", "call", name, "status", res.StatusCode)
		return fmt.Errorf("%w: status %d", ErrEngineUnavailable, res.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, maxEngineResponse)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrEngineUnavailable, err)
	}
	return nil
}
