package realtime

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Paging defaults shared by stores and the gateway.
const (
	defaultConversationLimit = 20
	maxConversationLimit     = 100

	defaultHistoryLimit = 60
	maxHistoryLimit     = 200
)

// Message types accepted by AppendMessage.
var messageTypes = map[string]struct{}{
	"text": {}, "image": {}, "video": {}, "audio": {}, "file": {},
}

// StoredConversation is a conversation as seen by one member (UnreadCount is per viewer).
type StoredConversation struct {
	ID                 string
	IsGroup            bool
	Name               string
	MemberIDs          []string
	LastMessagePreview *string
	LastMessageAt      time.Time
	CreatedAt          time.Time
	UnreadCount        int
}

// StoredAttachment references an uploaded file.
type StoredAttachment struct {
	URL      string
	Filename string
	Size     int64
	MimeType string
}

// StoredReaction is one (user, type) reaction.
type StoredReaction struct {
	UserID string
	Type   string
}

// StoredMessage is the canonical persisted message representation.
type StoredMessage struct {
	ID             string
	ConversationID string
	ClientMsgID    string
	Seq            int64
	AuthorID       string
	Type           string
	Content        *string
	Attachment     *StoredAttachment
	RepliedToID    string
	Edited         bool
	Reactions      []StoredReaction
	ServerTS       time.Time
}

// Store persists conversations and messages.
//
// Requirements:
//   - Idempotency per (conversation_id, client_msg_id)
//   - Monotonic seq per conversation (no gaps for duplicates)
//   - History pages ordered newest first
//   - Reactions are a set per (message, user, type)
type Store interface {
	CreateConversation(ctx context.Context, in CreateConversationInput) (StoredConversation, error)
	ListConversations(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)

	AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error)
	FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error)
	EditMessage(ctx context.Context, in EditMessageInput) (StoredMessage, error)
	AddReaction(ctx context.Context, in AddReactionInput) (AddReactionResult, error)

	Close() error
}

// CreateConversationInput describes a new conversation. The creator is always a member.
// A conversation with exactly one other participant and no name is direct and
// is reused if it already exists for the pair.
type CreateConversationInput struct {
	CreatorID      string
	ParticipantIDs []string
	Name           string
	Now            time.Time
}

// ListConversationsInput requests page Page (1-based) of UserID's conversations.
type ListConversationsInput struct {
	UserID string
	Page   int
	Limit  int
}

// ListConversationsResult is ordered by last activity, newest first.
type ListConversationsResult struct {
	Items   []StoredConversation
	HasNext bool
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	ConversationID string
	ClientMsgID    string
	AuthorID       string
	Type           string
	Content        *string
	Attachment     *StoredAttachment
	RepliedToID    string
	Now            time.Time
}

// AppendMessageResult is the append operation result.
type AppendMessageResult struct {
	Stored     StoredMessage
	Duplicated bool
}

// FetchHistoryInput selects one newest-first window.
// BeforeID, when set, takes precedence over Page.
// Fetching the newest window marks the conversation read for ViewerID.
type FetchHistoryInput struct {
	ConversationID string
	ViewerID       string
	Page           int
	BeforeID       string
	Limit          int
}

// FetchHistoryResult contains the retrieved window, newest first.
type FetchHistoryResult struct {
	Messages []StoredMessage
	HasOlder bool
}

// EditMessageInput replaces the content of a message. Only the author may edit.
type EditMessageInput struct {
	MessageID string
	EditorID  string
	Content   string
}

// AddReactionInput adds (UserID, Type) to a message the user can see.
type AddReactionInput struct {
	MessageID string
	UserID    string
	Type      string
}

// AddReactionResult reports whether the reaction was new.
type AddReactionResult struct {
	Stored StoredMessage
	Added  bool
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// normalizeMembers returns the creator followed by the distinct participants.
func normalizeMembers(creatorID string, participantIDs []string) []string {
	out := []string{creatorID}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func validateAppend(op string, in *AppendMessageInput) error {
	in.ConversationID = strings.TrimSpace(in.ConversationID)
	in.ClientMsgID = strings.TrimSpace(in.ClientMsgID)
	in.AuthorID = strings.TrimSpace(in.AuthorID)
	in.RepliedToID = strings.TrimSpace(in.RepliedToID)

	if in.ConversationID == "" || in.ClientMsgID == "" || in.AuthorID == "" {
		return invalidInput(op, "conversation_id, client_msg_id and author required")
	}
	if in.Type == "" {
		in.Type = "text"
	}
	if _, ok := messageTypes[in.Type]; !ok {
		return invalidInput(op, "unknown message type")
	}

	if in.Content != nil {
		c := strings.TrimSpace(norm.NFC.String(*in.Content))
		if utf8.RuneCountInString(c) > maxMessageChars {
			return invalidInput(op, "message too long")
		}
		if c == "" {
			in.Content = nil
		} else {
			in.Content = &c
		}
	}

	if in.Type == "text" {
		if in.Content == nil {
			return invalidInput(op, "empty text")
		}
		if in.Attachment != nil {
			return invalidInput(op, "text message with attachment")
		}
		return nil
	}
	if in.Attachment == nil || strings.TrimSpace(in.Attachment.URL) == "" {
		return invalidInput(op, "attachment required")
	}
	return nil
}

func normalizeEdit(op string, in *EditMessageInput) error {
	in.MessageID = strings.TrimSpace(in.MessageID)
	in.EditorID = strings.TrimSpace(in.EditorID)
	in.Content = strings.TrimSpace(norm.NFC.String(in.Content))
	switch {
	case in.MessageID == "" || in.EditorID == "":
		return invalidInput(op, "message_id and editor required")
	case in.Content == "":
		return invalidInput(op, "empty content")
	case utf8.RuneCountInString(in.Content) > maxMessageChars:
		return invalidInput(op, "message too long")
	}
	return nil
}

func normalizeReaction(op string, in *AddReactionInput) error {
	in.MessageID = strings.TrimSpace(in.MessageID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.Type = strings.TrimSpace(norm.NFC.String(in.Type))
	switch {
	case in.MessageID == "" || in.UserID == "" || in.Type == "":
		return invalidInput(op, "message_id, user and type required")
	case utf8.RuneCountInString(in.Type) > maxReactionChars:
		return invalidInput(op, "reaction type too long")
	}
	return nil
}

// previewOf is the conversation list preview for a stored message.
func previewOf(m StoredMessage) string {
	if m.Content != nil {
		r := []rune(*m.Content)
		if len(r) > previewMaxRunes {
			return string(r[:previewMaxRunes]) + "…"
		}
		return *m.Content
	}
	if m.Attachment != nil && m.Attachment.Filename != "" {
		return m.Attachment.Filename
	}
	return m.Type
}
