package chat

import (
	"context"
	"io"
)

// ConversationPage is one page of the caller's conversations, newest activity first.
type ConversationPage struct {
	Items   []Conversation
	HasNext bool
}

// MessagePageRequest addresses one message window.
// Page 1 is the most recent window; higher pages are progressively older.
// Before, when set, is the oldest loaded message id and lets the server page
// by key instead of by offset.
type MessagePageRequest struct {
	ConversationID string
	Page           int
	Before         string
}

// MessagePage is one message window ordered newest first.
type MessagePage struct {
	Items    []Message
	HasOlder bool
}

// Draft is the content of a message to send.
type Draft struct {
	// ClientMsgID is the server-side idempotency key. Generated when empty.
	ClientMsgID string
	Type        MessageType
	Content     string
	Attachment  *Attachment
	RepliedToID string
}

// StartConversationInput describes a conversation to create.
type StartConversationInput struct {
	ParticipantIDs []string
	Name           string
}

// ConversationChannel is the conversation half of the request/response channel.
type ConversationChannel interface {
	FetchConversations(ctx context.Context, page int) (ConversationPage, error)
	StartConversation(ctx context.Context, in StartConversationInput) (Conversation, error)
}

// MessageChannel fetches message windows.
type MessageChannel interface {
	FetchMessages(ctx context.Context, req MessagePageRequest) (MessagePage, error)
}

// MutationChannel performs acknowledged mutations.
type MutationChannel interface {
	SendMessage(ctx context.Context, conversationID string, d Draft) (Message, error)
	EditMessage(ctx context.Context, messageID, content string) error
	ReactToMessage(ctx context.Context, messageID, reactionType string) error
}

// Channel is the full request/response channel consumed by the engine.
type Channel interface {
	ConversationChannel
	MessageChannel
	MutationChannel
}

// File is a picked file handle.
type File interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// Uploader transfers a file and returns its stored attachment.
// progress is called with cumulative bytes sent; it may be called from another goroutine.
type Uploader interface {
	Upload(ctx context.Context, f File, progress func(sent, total int64)) (Attachment, error)
}

// Sender turns a draft into an acknowledged message. *Reconciler implements it.
type Sender interface {
	Send(ctx context.Context, conversationID string, d Draft) (Message, error)
}
