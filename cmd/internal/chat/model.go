package chat

import (
	"strings"
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	default:
		return false
	}
}

// UserSummary identifies a conversation participant.
type UserSummary struct {
	ID   string
	Name string
}

// Conversation is a snapshot of one conversation as returned by the server.
type Conversation struct {
	ID                 string
	IsGroup            bool
	Name               string
	Participants       []UserSummary
	LastMessagePreview *string
	LastMessageAt      time.Time
	UnreadCount        int
}

// Key implements Keyed.
func (c Conversation) Key() string { return c.ID }

// DisplayName returns the explicit name, or the names of the other participants.
func (c Conversation) DisplayName(selfID string) string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}

	names := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID == selfID {
			continue
		}
		n := strings.TrimSpace(p.Name)
		if n == "" {
			n = p.ID
		}
		names = append(names, n)
	}
	if len(names) == 0 {
		return c.ID
	}
	return strings.Join(names, ", ")
}

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL      string
	Filename string
	Size     int64
	MimeType string
}

// Reaction is one (user, type) reaction on a message.
type Reaction struct {
	UserID string
	Type   string
}

// Message is a server-acknowledged message.
// ID and Timestamp are assigned by the server; there are no local placeholders.
type Message struct {
	ID             string
	ConversationID string
	ClientMsgID    string
	AuthorID       string
	Type           MessageType
	Content        *string
	Attachment     *Attachment
	Timestamp      time.Time
	IsEdited       bool
	RepliedToID    string
	Reactions      []Reaction
}

// Key implements Keyed.
func (m Message) Key() string { return m.ID }

// HasReaction reports whether userID already reacted with typ.
func (m Message) HasReaction(userID, typ string) bool {
	for _, r := range m.Reactions {
		if r.UserID == userID && r.Type == typ {
			return true
		}
	}
	return false
}

// Preview returns a short text suitable for a conversation list row.
func (m Message) Preview() string {
	if m.Content != nil {
		if s := strings.TrimSpace(*m.Content); s != "" {
			return truncateRunes(s, previewMaxRunes)
		}
	}
	if m.Attachment != nil && m.Attachment.Filename != "" {
		return m.Attachment.Filename
	}
	return string(m.Type)
}

// messageLess orders messages ascending by timestamp, then id.
func messageLess(a, b Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// conversationFresher reports whether cur is at least as recent as old.
func conversationFresher(old, cur Conversation) bool {
	return !cur.LastMessageAt.Before(old.LastMessageAt)
}

const previewMaxRunes = 120

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func cloneMessage(m Message) Message {
	if m.Content != nil {
		c := *m.Content
		m.Content = &c
	}
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.Reactions != nil {
		m.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return m
}

func strPtr(s string) *string { return &s }
