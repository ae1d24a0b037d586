package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	maxMessageChars  = 4000
	maxReactionChars = 32
)

// Reconciler performs send/edit/react mutations and applies them to the
// MessageFeed only after the server acknowledged them. A failed mutation never
// touches the feed.
type Reconciler struct {
	ch     MutationChannel
	feed   *MessageFeed
	selfID string
	o      options
}

// NewReconciler binds mutations on ch to feed. selfID identifies the session
// user for reaction bookkeeping.
func NewReconciler(ch MutationChannel, feed *MessageFeed, selfID string, opts ...Option) *Reconciler {
	return &Reconciler{
		ch:     ch,
		feed:   feed,
		selfID: strings.TrimSpace(selfID),
		o:      buildOptions(opts),
	}
}

// Send validates d, sends it and appends the acknowledged message to the feed.
// Retrying with the same ClientMsgID is safe: the server deduplicates on it.
func (r *Reconciler) Send(ctx context.Context, conversationID string, d Draft) (Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Message{}, invalid("conversation_id", "required")
	}
	d, err := normalizeDraft(d)
	if err != nil {
		r.o.metrics.mutation(OpSendMessage, err)
		return Message{}, err
	}
	if d.ClientMsgID == "" {
		d.ClientMsgID = uuid.NewString()
	}

	msg, err := r.ch.SendMessage(ctx, conversationID, d)
	r.o.metrics.mutation(OpSendMessage, err)
	if err != nil {
		r.o.log.Info("mutation.send.fail", "conversation_id", conversationID, "client_msg_id", d.ClientMsgID, "err", err)
		return Message{}, &OpError{Op: OpSendMessage, Target: conversationID, Err: err}
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if msg.ClientMsgID == "" {
		msg.ClientMsgID = d.ClientMsgID
	}

	added, err := r.feed.AppendSent(msg)
	if err != nil {
		// The server acknowledged something the feed cannot hold (no id).
		r.o.log.Warn("mutation.send.unreconciled", "conversation_id", conversationID, "client_msg_id", d.ClientMsgID, "err", err)
		return msg, nil
	}
	if r.o.conversations != nil {
		r.o.conversations.Touch(conversationID, msg.Preview(), msg.Timestamp)
	}

	r.o.log.Debug("mutation.send", "conversation_id", conversationID, "message_id", msg.ID, "appended", added)
	if added {
		r.reconciled(OpSendMessage, conversationID, msg.ID)
	}
	return msg, nil
}

// Edit replaces the content of an own message. When the message is no longer
// in the active feed the acknowledged edit is not applied locally.
func (r *Reconciler) Edit(ctx context.Context, messageID, content string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return invalid("message_id", "required")
	}
	content, err := normalizeContent(content)
	if err != nil {
		r.o.metrics.mutation(OpEditMessage, err)
		return err
	}
	if content == "" {
		err := invalid("content", "required")
		r.o.metrics.mutation(OpEditMessage, err)
		return err
	}

	err = r.ch.EditMessage(ctx, messageID, content)
	r.o.metrics.mutation(OpEditMessage, err)
	if err != nil {
		r.o.log.Info("mutation.edit.fail", "message_id", messageID, "err", err)
		return &OpError{Op: OpEditMessage, Target: messageID, Err: err}
	}

	owner, ok := r.feed.patch(messageID, func(m *Message) bool {
		m.Content = strPtr(content)
		m.IsEdited = true
		return true
	})
	if !ok {
		r.o.log.Debug("mutation.edit.dropped", "message_id", messageID)
		return nil
	}
	r.reconciled(OpEditMessage, owner, messageID)
	return nil
}

// React records the session user's reaction on a message.
//
// Reactions are a set keyed by (user, type): reacting again with a type that
// is already recorded for the user issues no request.
func (r *Reconciler) React(ctx context.Context, messageID, reactionType string) error {
	messageID = strings.TrimSpace(messageID)
	reactionType = norm.NFC.String(strings.TrimSpace(reactionType))
	switch {
	case messageID == "":
		return invalid("message_id", "required")
	case reactionType == "":
		return invalid("type", "required")
	case utf8.RuneCountInString(reactionType) > maxReactionChars:
		return invalid("type", "too long")
	case r.selfID == "":
		return invalid("user_id", "session user unknown")
	}

	if m, ok := r.feed.Get(messageID); ok && m.HasReaction(r.selfID, reactionType) {
		r.o.log.Debug("mutation.react.duplicate", "message_id", messageID, "type", reactionType)
		return nil
	}

	err := r.ch.ReactToMessage(ctx, messageID, reactionType)
	r.o.metrics.mutation(OpReactToMessage, err)
	if err != nil {
		r.o.log.Info("mutation.react.fail", "message_id", messageID, "type", reactionType, "err", err)
		return &OpError{Op: OpReactToMessage, Target: messageID, Err: err}
	}

	owner, ok := r.feed.patch(messageID, func(m *Message) bool {
		if m.HasReaction(r.selfID, reactionType) {
			return false
		}
		m.Reactions = append(m.Reactions, Reaction{UserID: r.selfID, Type: reactionType})
		return true
	})
	if !ok {
		r.o.log.Debug("mutation.react.dropped", "message_id", messageID)
		return nil
	}
	r.reconciled(OpReactToMessage, owner, messageID)
	return nil
}

func (r *Reconciler) reconciled(op, conversationID, messageID string) {
	if r.o.onReconciled != nil {
		r.o.onReconciled(ReconcileEvent{Op: op, ConversationID: conversationID, MessageID: messageID})
	}
}

func normalizeContent(s string) (string, error) {
	s = strings.TrimSpace(norm.NFC.String(s))
	if !utf8.ValidString(s) {
		return "", invalid("content", "invalid utf-8")
	}
	if utf8.RuneCountInString(s) > maxMessageChars {
		return "", invalid("content", "too long")
	}
	return s, nil
}

func normalizeDraft(d Draft) (Draft, error) {
	content, err := normalizeContent(d.Content)
	if err != nil {
		return Draft{}, err
	}
	d.Content = content
	d.ClientMsgID = strings.TrimSpace(d.ClientMsgID)
	d.RepliedToID = strings.TrimSpace(d.RepliedToID)

	if d.Type == "" {
		if d.Attachment != nil {
			d.Type = MessageFile
		} else {
			d.Type = MessageText
		}
	}
	if !d.Type.Valid() {
		return Draft{}, invalid("type", "unknown message type")
	}

	if d.Type == MessageText {
		if d.Attachment != nil {
			return Draft{}, invalid("attachment", "text messages carry no attachment")
		}
		if d.Content == "" {
			return Draft{}, invalid("content", "required")
		}
		return d, nil
	}

	if d.Attachment == nil || strings.TrimSpace(d.Attachment.URL) == "" {
		return Draft{}, invalid("attachment", "required for "+string(d.Type)+" messages")
	}
	a := *d.Attachment
	d.Attachment = &a
	return d, nil
}
