package realtime

import (
	"time"

	"hrchat/cmd/internal/ids"
)

// NewSessionID returns a ULID used as websocket session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewMessageID returns a ULID used as the server message id.
// ULIDs sort by creation time, which keeps ties on server_ts ordered.
func NewMessageID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewConversationID returns a ULID used as conversation id.
func NewConversationID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
