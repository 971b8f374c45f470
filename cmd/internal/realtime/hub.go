package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trustcore/cmd/internal/notify"
)

// Hub tracks live connections per account and fans security alerts out to them.
// It implements notify.AlertSender.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	accounts map[int64]map[string]*Client // account -> session id -> client
}

var _ notify.AlertSender = (*Hub)(nil)

// NewHub constructs a Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, accounts: make(map[int64]map[string]*Client)}
}

// Join registers c under its account.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.accounts[c.AccountID]
	if !ok {
		m = make(map[string]*Client)
		h.accounts[c.AccountID] = m
	}
	m[c.SessionID] = c
}

// Leave removes a connection. Unknown ids are ignored.
func (h *Hub) Leave(accountID int64, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.accounts[accountID]
	if !ok {
		return
	}
	delete(m, sessionID)
	if len(m) == 0 {
		delete(h.accounts, accountID)
	}
}

// Count returns the number of live connections of an account.
func (h *Hub) Count(accountID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.accounts[accountID])
}

// SendSecurityAlert pushes a to every open connection of the account.
// Slow consumers whose queue is full miss the alert; delivery never blocks the caller.
func (h *Hub) SendSecurityAlert(_ context.Context, a notify.Alert) error {
	at := a.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	env := newEnvelope(TypeSecurityAlert, AlertPayload{
		Kind:     string(a.Kind),
		Message:  a.Message,
		DeviceID: a.DeviceID,
		At:       at,
	}, at)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.accounts[a.AccountID]))
	for _, c := range h.accounts[a.AccountID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.offer(env) {
			h.log.Warn("ws.alert.drop", "account_id", a.AccountID, "session_id", c.SessionID, "kind", a.Kind)
		}
	}
	return nil
}
