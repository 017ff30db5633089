package realtime

import "sync"

// Client represents one connected event-stream subscriber.
//
// Send is never closed by the hub to keep fan-out safe under concurrency;
// done carries the shutdown signal instead, and Close is idempotent.
type Client struct {
	AccountID string
	SessionID string
	Send      chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(accountID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		AccountID: accountID,
		SessionID: sessionID,
		Send:      make(chan Event, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// trySend enqueues without blocking. A false return means the queue is full
// or the client is closed.
func (c *Client) trySend(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- ev:
		return true
	default:
		return false
	}
}
