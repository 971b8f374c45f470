package audit

import (
	"context"
	"log/slog"
	"sync"
)

// Memory keeps events in process. It is both a Recorder and a Writer.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(e Event) {
	e = e.normalized(e.At)
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *Memory) WriteEvents(_ context.Context, events []Event) error {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Find returns the recorded events with the given action and outcome.
func (m *Memory) Find(action string, outcome Outcome) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Action == action && e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

// LogWriter writes events to a logger. Used when no database is configured.
type LogWriter struct {
	Log *slog.Logger
}

func (w LogWriter) WriteEvents(ctx context.Context, events []Event) error {
	l := w.Log
	if l == nil {
		l = slog.Default()
	}
	for _, e := range events {
		l.InfoContext(ctx, "audit.event",
			"event_id", e.ID,
			"action", e.Action,
			"outcome", string(e.Outcome),
			"subject_id", e.SubjectID,
			"resource_type", e.ResourceType,
			"reason", e.Reason,
		)
	}
	return nil
}
