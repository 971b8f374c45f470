package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trustcore/cmd/identity/ids"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("audit: sink closed")

// SinkConfig bounds the queue and batching.
type SinkConfig struct {
	QueueSize    int           `env:"QUEUE_SIZE"`
	BatchSize    int           `env:"BATCH_SIZE"`
	FlushEvery   time.Duration `env:"FLUSH_INTERVAL"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT"`
}

// DefaultSinkConfig returns a 1024 event queue flushed every second in batches of 64.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		QueueSize:    1024,
		BatchSize:    64,
		FlushEvery:   time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

func (c SinkConfig) withDefaults() SinkConfig {
	d := DefaultSinkConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = d.FlushEvery
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}

// Sink is the asynchronous Recorder.
//
// Security contract:
//   - Record never blocks and never fails; overflow drops the newest event.
//   - Every drop increments trustcore_audit_dropped_total and is logged at warn.
//   - Close drains what is already queued before returning (bounded by ctx).
type Sink struct {
	cfg SinkConfig
	w   Writer
	log *slog.Logger
	now func() time.Time

	ch      chan Event
	dropped prometheus.Counter

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) SinkOption {
	return func(s *Sink) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the event timestamp source (tests).
func WithClock(now func() time.Time) SinkOption {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRegisterer registers the drop counter on reg.
func WithRegisterer(reg prometheus.Registerer) SinkOption {
	return func(s *Sink) {
		if reg == nil {
			return
		}
		if err := reg.Register(s.dropped); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
					s.dropped = existing
				}
			}
		}
	}
}

// NewSink builds a Sink over w. Call Start to run the worker.
func NewSink(w Writer, cfg SinkConfig, opts ...SinkOption) *Sink {
	cfg = cfg.withDefaults()
	s := &Sink{
		cfg: cfg,
		w:   w,
		log: slog.Default(),
		now: func() time.Time { return time.Now().UTC() },
		ch:  make(chan Event, cfg.QueueSize),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trustcore",
			Subsystem: "audit",
			Name:      "dropped_total",
			Help:      "Audit events dropped because the queue was full.",
		}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Dropped exposes the drop counter (tests and dashboards).
func (s *Sink) Dropped() prometheus.Counter { return s.dropped }

// Record enqueues e without blocking.
func (s *Sink) Record(e Event) {
	if s == nil {
		return
	}
	e = e.normalized(s.now())
	if e.Action == "" {
		return
	}
	if e.ID == "" {
		if id, err := ids.NewULID(e.At); err == nil {
			e.ID = id
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(e, "closed")
		return
	}
	select {
	case s.ch <- e:
	default:
		s.drop(e, "queue_full")
	}
}

func (s *Sink) drop(e Event, why string) {
	s.dropped.Inc()
	s.log.Warn("audit.drop", "reason", why, "action", e.Action, "outcome", string(e.Outcome))
}

// Start runs the worker until Close. It returns immediately.
func (s *Sink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	go s.run()
	return nil
}

// Close stops accepting events and waits for the worker to flush the queue.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	close(s.ch)
	s.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, s.cfg.BatchSize)
	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.cfg.BatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Sink) flush(batch []Event) {
	if len(batch) == 0 || s.w == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.w.WriteEvents(ctx, batch); err != nil {
		s.log.Error("audit.write.fail", "err", err, "events", len(batch))
	}
}
