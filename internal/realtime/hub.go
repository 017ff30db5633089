// Package realtime pushes session lifecycle events to connected devices.
package realtime

import (
	"log/slog"
	"sync"
)

// Event is one message pushed to a subscribed device.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

const EventSessionRevoked = "session.revoked"

// Hub fans session events out to the account's connected clients. It
// implements the session service's Events hook; delivery is best-effort and
// never blocks the caller.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[string]map[*Client]struct{}),
	}
}

// Subscribe registers a client under its account.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.AccountID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.AccountID] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe removes a client. Idempotent.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.AccountID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.AccountID)
	}
}

// SessionsRevoked delivers a session.revoked event for every revoked id to
// each of the account's connected clients. A client whose queue is full is
// dropped rather than blocking revocation.
func (h *Hub) SessionsRevoked(accountID string, sessionIDs []string, reason string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[accountID]))
	for c := range h.clients[accountID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		for _, id := range sessionIDs {
			if !c.trySend(Event{Type: EventSessionRevoked, SessionID: id, Reason: reason}) {
				h.log.Info("realtime.client.slow_drop", "account_id", accountID)
				c.Close()
				h.Unsubscribe(c)
				break
			}
		}
	}
}
