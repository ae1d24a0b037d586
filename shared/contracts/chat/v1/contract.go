// Package v1 defines the hrchat chat protocol v1 contract.
//
// Every client request is answered by exactly one server envelope whose
// ReplyTo carries the request ID. The server never pushes unsolicited
// envelopes: the engine is pull/refetch based.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated on upgrade.
const Subprotocol = "hrchat.chat.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session and declares the acting user (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeConversationsFetch requests one page of the caller's conversations.
	TypeConversationsFetch = "conversations_fetch"
	// TypeConversationsPage answers TypeConversationsFetch.
	TypeConversationsPage = "conversations_page"

	// TypeConversationStart creates a conversation.
	TypeConversationStart = "conversation_start"
	// TypeConversationStarted answers TypeConversationStart.
	TypeConversationStarted = "conversation_started"

	// TypeMessagesFetch requests one newest-first window of a conversation.
	TypeMessagesFetch = "messages_fetch"
	// TypeMessagesPage answers TypeMessagesFetch.
	TypeMessagesPage = "messages_page"

	// TypeMessageSend requests sending a new message.
	TypeMessageSend = "message_send"
	// TypeMessageAck returns the canonical stored message.
	TypeMessageAck = "message_ack"

	// TypeMessageEdit requests replacing a message's content.
	TypeMessageEdit = "message_edit"
	// TypeMessageEdited acknowledges an edit.
	TypeMessageEdited = "message_edited"

	// TypeMessageReact requests adding a reaction.
	TypeMessageReact = "message_react"
	// TypeMessageReacted acknowledges a reaction.
	TypeMessageReacted = "message_reacted"

	// TypeError is the generic failure reply (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationsFetch,
		TypeConversationsPage,
		TypeConversationStart,
		TypeConversationStarted,
		TypeMessagesFetch,
		TypeMessagesPage,
		TypeMessageSend,
		TypeMessageAck,
		TypeMessageEdit,
		TypeMessageEdited,
		TypeMessageReact,
		TypeMessageReacted,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// IsRequest reports whether the type is sent by clients.
func IsRequest(typ string) bool {
	switch typ {
	case TypeHello,
		TypeConversationsFetch,
		TypeConversationStart,
		TypeMessagesFetch,
		TypeMessageSend,
		TypeMessageEdit,
		TypeMessageReact:
		return true
	default:
		return false
	}
}

// ---- Payloads ----

// HelloPayload declares the user acting on this session.
// Authentication happens in front of the gateway; the gateway trusts it.
type HelloPayload struct {
	UserID string `json:"user_id"`
}

// HelloAckPayload carries the server-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// UserPayload is a participant summary.
type UserPayload struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ConversationPayload is the wire form of a conversation snapshot.
type ConversationPayload struct {
	ID                 string        `json:"id"`
	IsGroup            bool          `json:"is_group"`
	Name               string        `json:"name,omitempty"`
	Participants       []UserPayload `json:"participants"`
	LastMessagePreview *string       `json:"last_message_preview,omitempty"`
	LastMessageTS      time.Time     `json:"last_message_ts,omitempty"`
	UnreadCount        int           `json:"unread_count"`
}

// AttachmentPayload describes an uploaded file.
type AttachmentPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
}

// ReactionPayload is one (user, type) reaction.
type ReactionPayload struct {
	UserID string `json:"user_id"`
	Type   string `json:"type"`
}

// MessagePayload is the wire form of a stored message.
type MessagePayload struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	ClientMsgID    string             `json:"client_msg_id,omitempty"`
	Seq            int64              `json:"seq"`
	AuthorID       string             `json:"author_id"`
	Type           string             `json:"type"`
	Content        *string            `json:"content,omitempty"`
	Attachment     *AttachmentPayload `json:"attachment,omitempty"`
	RepliedToID    string             `json:"replied_to_id,omitempty"`
	Edited         bool               `json:"edited"`
	Reactions      []ReactionPayload  `json:"reactions,omitempty"`
	ServerTS       time.Time          `json:"server_ts"`
}

// ConversationsFetchPayload requests page Page (1-based) of the caller's conversations.
type ConversationsFetchPayload struct {
	Page  int `json:"page"`
	Limit int `json:"limit,omitempty"`
}

// ConversationsPagePayload lists conversations newest-activity-first.
type ConversationsPagePayload struct {
	Page    int                   `json:"page"`
	Items   []ConversationPayload `json:"items"`
	HasNext bool                  `json:"has_next"`
}

// ConversationStartPayload creates a conversation with the caller plus ParticipantIDs.
type ConversationStartPayload struct {
	ParticipantIDs []string `json:"participant_ids"`
	Name           string   `json:"name,omitempty"`
}

// ConversationStartedPayload returns the created conversation.
type ConversationStartedPayload struct {
	Conversation ConversationPayload `json:"conversation"`
}

// MessagesFetchPayload requests a newest-first window.
// Page 1 is the most recent window; Before (a message id) takes precedence over Page.
type MessagesFetchPayload struct {
	ConversationID string `json:"conversation_id"`
	Page           int    `json:"page,omitempty"`
	Before         string `json:"before,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// MessagesPagePayload returns a window ordered newest first.
type MessagesPagePayload struct {
	ConversationID string           `json:"conversation_id"`
	Page           int              `json:"page"`
	Items          []MessagePayload `json:"items"`
	HasOlder       bool             `json:"has_older"`
}

// MessageSendPayload requests sending a new message into a conversation.
type MessageSendPayload struct {
	ConversationID string             `json:"conversation_id"`
	ClientMsgID    string             `json:"client_msg_id"`
	Type           string             `json:"type"`
	Content        *string            `json:"content,omitempty"`
	Attachment     *AttachmentPayload `json:"attachment,omitempty"`
	RepliedToID    string             `json:"replied_to_id,omitempty"`
}

// MessageAckPayload returns the canonical stored message.
type MessageAckPayload struct {
	Message   MessagePayload `json:"message"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

// MessageEditPayload replaces the content of MessageID.
type MessageEditPayload struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// MessageEditedPayload acknowledges an edit.
type MessageEditedPayload struct {
	MessageID string `json:"message_id"`
}

// MessageReactPayload adds a reaction of Type by the session user.
type MessageReactPayload struct {
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
}

// MessageReactedPayload acknowledges a reaction.
type MessageReactedPayload struct {
	MessageID string `json:"message_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
