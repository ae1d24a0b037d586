package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

const conversationsKey = "conversations"

// ConversationFeed is the forward-only, newest-activity-first conversation list.
// New pages are appended below the fold, so no scroll correction is needed.
type ConversationFeed struct {
	ch    ConversationChannel
	store *PageStore[Conversation]
	o     options
}

// NewConversationFeed constructs an empty feed over ch.
func NewConversationFeed(ch ConversationChannel, opts ...Option) *ConversationFeed {
	return &ConversationFeed{
		ch:    ch,
		store: NewPageStore(ReplaceWhen(conversationFresher)),
		o:     buildOptions(opts),
	}
}

// LoadNext fetches and appends the next page.
// It fails with ErrNoMorePages when the server reported no continuation and
// with ErrFetchInFlight when a fetch is outstanding.
func (f *ConversationFeed) LoadNext(ctx context.Context) error {
	if c := f.store.Cursor(conversationsKey); c.Page > 0 && !c.HasMoreForward {
		return ErrNoMorePages
	}

	t, cur, err := f.store.Begin(conversationsKey)
	if err != nil {
		f.o.metrics.rejected(feedConversations)
		return err
	}
	if cur.Page > 0 && !cur.HasMoreForward {
		f.store.Abort(t)
		return ErrNoMorePages
	}

	return f.fetch(ctx, t, cur.Page+1)
}

// Refresh refetches page 1, replacing the loaded list.
func (f *ConversationFeed) Refresh(ctx context.Context) error {
	t, _, err := f.store.Begin(conversationsKey)
	if err != nil {
		f.o.metrics.rejected(feedConversations)
		return err
	}
	return f.fetch(ctx, t, 1)
}

func (f *ConversationFeed) fetch(ctx context.Context, t Ticket, page int) error {
	res, err := f.ch.FetchConversations(ctx, page)
	f.o.metrics.fetch(feedConversations, err)
	if err != nil {
		f.store.Abort(t)
		f.o.log.Info("feed.conversations.fetch.fail", "page", page, "err", err)
		return &OpError{Op: OpFetchConversations, Target: strconv.Itoa(page), Err: err}
	}

	out, err := f.store.Merge(t, page, res.Items, Append, CursorInfo{HasMoreForward: res.HasNext})
	if errors.Is(err, ErrStaleTicket) {
		f.o.metrics.stale(feedConversations)
		f.o.log.Debug("feed.conversations.stale", "page", page)
		return nil
	}
	if err != nil {
		f.store.Abort(t)
		return err
	}

	f.o.log.Debug("feed.conversations.merged", "page", page, "added", out.Added, "total", len(out.Items), "has_next", res.HasNext)
	f.changed()
	return nil
}

// SentinelVisible is the "bottom sentinel became visible" event.
// Exhaustion and in-flight fetches are expected here and are not errors.
func (f *ConversationFeed) SentinelVisible(ctx context.Context) error {
	err := f.LoadNext(ctx)
	if errors.Is(err, ErrNoMorePages) || errors.Is(err, ErrFetchInFlight) {
		return nil
	}
	return err
}

// Start creates a conversation and puts it at the head of the list.
func (f *ConversationFeed) Start(ctx context.Context, in StartConversationInput) (Conversation, error) {
	ids := make([]string, 0, len(in.ParticipantIDs))
	seen := make(map[string]struct{}, len(in.ParticipantIDs))
	for _, id := range in.ParticipantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return Conversation{}, invalid("participant_ids", "at least one participant required")
	}
	in.ParticipantIDs = ids
	in.Name = strings.TrimSpace(in.Name)

	conv, err := f.ch.StartConversation(ctx, in)
	if err != nil {
		return Conversation{}, &OpError{Op: OpStartConversation, Target: strings.Join(ids, ","), Err: err}
	}

	f.store.Promote(conversationsKey, conv)
	f.o.log.Info("feed.conversations.started", "conversation_id", conv.ID, "participants", len(conv.Participants))
	f.changed()
	return conv, nil
}

// Touch records new activity on a loaded conversation and moves it to the head.
// Conversations that are not loaded are left for the next page merge.
func (f *ConversationFeed) Touch(conversationID, preview string, at time.Time) bool {
	conv, ok := f.store.Get(conversationsKey, conversationID)
	if !ok {
		return false
	}
	if at.Before(conv.LastMessageAt) {
		return false
	}

	conv.LastMessagePreview = &preview
	conv.LastMessageAt = at
	f.store.Promote(conversationsKey, conv)
	f.changed()
	return true
}

// Reset drops the loaded list (e.g. when the session user changes).
func (f *ConversationFeed) Reset() {
	f.store.Reset(conversationsKey)
	f.changed()
}

// Items returns a snapshot of the loaded conversations.
func (f *ConversationFeed) Items() []Conversation {
	return f.store.Items(conversationsKey)
}

// HasMoreForward reports whether LoadNext may fetch another page.
func (f *ConversationFeed) HasMoreForward() bool {
	c := f.store.Cursor(conversationsKey)
	return c.Page == 0 || c.HasMoreForward
}

// IsFetching reports whether a fetch is outstanding.
func (f *ConversationFeed) IsFetching() bool {
	return f.store.Cursor(conversationsKey).Fetching
}

func (f *ConversationFeed) changed() {
	if f.o.onChange != nil {
		f.o.onChange()
	}
}
