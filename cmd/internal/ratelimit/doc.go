// Package ratelimit throttles inbound HTTP requests per client IP with Redis counters.
//
// Each client gets one fixed counter per window: the first hit creates the key with a TTL
// equal to the window and later hits INCR it. Login-class paths count against a separate,
// stricter key so a credential-stuffing burst cannot exhaust the general budget (and vice
// versa).
//
// Security contract:
//   - Limit and remaining quota are reported on every counted response, rejected or not.
//   - A request over the limit gets 429 with Retry-After and never reaches the handler.
//   - Redis failures fail open: the request proceeds and a warning is logged.
package ratelimit
