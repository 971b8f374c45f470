package realtime

import (
	"time"

	"trustcore/cmd/identity/ids"
)

// NewSessionID returns a ULID identifying one websocket connection.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id; ULIDs sort by time in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
