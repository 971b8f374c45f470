package realtime

import "sync"

// Client represents one connected device.
//
// Send is never closed by the server so concurrent alert fan-out cannot panic;
// done signals the connection goroutines to stop. Close is idempotent.
type Client struct {
	SessionID string
	AccountID int64
	DeviceID  string
	Send      chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(accountID int64, deviceID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		AccountID: accountID,
		DeviceID:  deviceID,
		Send:      make(chan Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// offer enqueues env without blocking. A full queue drops the envelope.
func (c *Client) offer(env Envelope) bool {
	select {
	case <-c.done:
		return false
	case c.Send <- env:
		return true
	default:
		return false
	}
}
