package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// Max reaction type length (runes).
	maxReactionChars = 32

	// Conversation list preview length (runes).
	previewMaxRunes = 120

	// Max participants per conversation, creator included.
	maxConversationMembers = 256

	// Max bytes accepted by the upload handler (50 MiB).
	defaultUploadMaxBytes int64 = 50 << 20
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
