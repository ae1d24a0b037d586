package realtime

import (
	"sync"

	v1 "hrchat/shared/contracts/chat/v1"
)

// Client is one connected websocket session.
//
// UserID is empty until the session says hello; it is only touched by the
// session's read loop. Send is never closed by the server; done signals the
// writer and heartbeat goroutines to stop.
type Client struct {
	SessionID string
	UserID    string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded reply queue.
func NewClient(userID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Authenticated reports whether hello has bound a user to the session.
func (c *Client) Authenticated() bool { return c != nil && c.UserID != "" }

// Done is closed when the session is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the session goroutines to stop. Idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
