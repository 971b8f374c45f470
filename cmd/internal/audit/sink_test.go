package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type blockingWriter struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (w *blockingWriter) WriteEvents(ctx context.Context, events []Event) error {
	select {
	case <-w.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.mu.Lock()
	w.got = append(w.got, events...)
	w.mu.Unlock()
	return nil
}

type failingWriter struct{ calls int }

func (w *failingWriter) WriteEvents(context.Context, []Event) error {
	w.calls++
	return errors.New("db down")
}

func TestSink_DeliversAndStampsEvents(t *testing.T) {
	mem := &Memory{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSink(mem, SinkConfig{BatchSize: 2, FlushEvery: 10 * time.Millisecond}, WithLogger(quiet()), WithClock(func() time.Time { return fixed }))
	require.NoError(t, s.Start())

	s.Record(Event{Action: ActionLogin, SubjectID: Account(7), Outcome: OutcomeFailure, Reason: "bad password"})
	s.Record(Event{Action: ActionLogout, SubjectID: Account(7)})
	s.Record(Event{Action: " "})

	require.NoError(t, s.Close(context.Background()))

	got := mem.Events()
	require.Len(t, got, 2)
	assert.Equal(t, ActionLogin, got[0].Action)
	assert.Equal(t, OutcomeFailure, got[0].Outcome)
	assert.Equal(t, fixed, got[0].At)
	assert.Len(t, got[0].ID, 26)
	assert.Equal(t, OutcomeSuccess, got[1].Outcome, "outcome defaults to success")
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestSink_DropsNewestWhenFull(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	reg := prometheus.NewRegistry()
	s := NewSink(w, SinkConfig{QueueSize: 2, BatchSize: 1, FlushEvery: time.Hour}, WithLogger(quiet()), WithRegisterer(reg))

	// Not started: the queue fills and the third and fourth events are dropped.
	for _, a := range []string{"A", "B", "C", "D"} {
		s.Record(Event{Action: a})
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(s.Dropped()))

	require.NoError(t, s.Start())
	close(w.release)
	require.NoError(t, s.Close(context.Background()))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.got, 2)
	assert.Equal(t, "A", w.got[0].Action)
	assert.Equal(t, "B", w.got[1].Action)
}

func TestSink_RecordNeverBlocksOnSlowWriter(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	s := NewSink(w, SinkConfig{QueueSize: 4, BatchSize: 1, FlushEvery: time.Hour, WriteTimeout: time.Minute}, WithLogger(quiet()))
	require.NoError(t, s.Start())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Record(Event{Action: ActionLogin})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stalled writer")
	}
	assert.Greater(t, testutil.ToFloat64(s.Dropped()), 0.0)

	close(w.release)
	require.NoError(t, s.Close(context.Background()))
}

func TestSink_WriterErrorsAreSwallowed(t *testing.T) {
	w := &failingWriter{}
	s := NewSink(w, SinkConfig{BatchSize: 1}, WithLogger(quiet()))
	require.NoError(t, s.Start())
	s.Record(Event{Action: ActionLogin})
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, w.calls)
}

func TestSink_ClosedSinkDropsAndRefusesStart(t *testing.T) {
	s := NewSink(&Memory{}, SinkConfig{}, WithLogger(quiet()))
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	s.Record(Event{Action: ActionLogin})
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Dropped()))
	require.ErrorIs(t, s.Start(), ErrClosed)
}

func TestAccount(t *testing.T) {
	assert.Nil(t, Account(0))
	require.NotNil(t, Account(5))
	assert.Equal(t, int64(5), *Account(5))
}
