package realtime

import "time"

const (
	// Max bytes per websocket frame read. Clients only send small control envelopes.
	maxFrameBytes = 4 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limit on client envelopes.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
