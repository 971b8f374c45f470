package ids

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

func TestNewULID_Sortable(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a, err := NewULID(base)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(base.Add(time.Second))
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(a) != 26 || a >= b {
		t.Fatalf("expected sortable 26-char ids: %s %s", a, b)
	}
	parsed, err := ulid.Parse(a)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ulid.Time(parsed.Time()).UnixMilli() != base.UnixMilli() {
		t.Fatalf("timestamp not preserved")
	}
}

func TestNewDeviceID(t *testing.T) {
	if _, err := uuid.Parse(NewDeviceID()); err != nil {
		t.Fatalf("device id is not a uuid: %v", err)
	}
}
