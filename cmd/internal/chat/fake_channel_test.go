package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var errBoom = errors.New("boom")

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel is an in-memory Channel. Message history is held ascending and
// served newest first in windows of pageSize, like the server.
type fakeChannel struct {
	mu sync.Mutex

	pageSize  int
	convPages map[int]ConversationPage
	history   map[string][]Message
	nextID    int

	// hold, when set for a conversation, blocks FetchMessages until released.
	hold    map[string]chan struct{}
	entered chan string
	// readBeforeHold makes a held fetch read history before it blocks, so the
	// page it returns misses anything sent while it waits.
	readBeforeHold bool

	fetchErr error
	sendErr  error
	editErr  error
	reactErr error

	fetches   []MessagePageRequest
	convCalls []int
	sends     []Draft
	edits     int
	reacts    int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		pageSize:  60,
		convPages: make(map[int]ConversationPage),
		history:   make(map[string][]Message),
		hold:      make(map[string]chan struct{}),
		entered:   make(chan string, 16),
		nextID:    1000,
	}
}

func (c *fakeChannel) seed(conversationID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < n; i++ {
		c.history[conversationID] = append(c.history[conversationID], Message{
			ID:             fmt.Sprintf("%s-%03d", conversationID, i),
			ConversationID: conversationID,
			AuthorID:       "u-peer",
			Type:           MessageText,
			Content:        strPtr(fmt.Sprintf("m%d", i)),
			Timestamp:      t0.Add(time.Duration(i) * time.Minute),
		})
	}
}

// block makes FetchMessages for conversationID wait until the returned func is called.
func (c *fakeChannel) block(conversationID string) func() {
	ch := make(chan struct{})
	c.mu.Lock()
	c.hold[conversationID] = ch
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.hold, conversationID)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *fakeChannel) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fetches)
}

func (c *fakeChannel) FetchConversations(_ context.Context, page int) (ConversationPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.convCalls = append(c.convCalls, page)
	if c.fetchErr != nil {
		return ConversationPage{}, c.fetchErr
	}
	return c.convPages[page], nil
}

func (c *fakeChannel) StartConversation(_ context.Context, in StartConversationInput) (Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	parts := make([]UserSummary, 0, len(in.ParticipantIDs))
	for _, id := range in.ParticipantIDs {
		parts = append(parts, UserSummary{ID: id, Name: strings.ToUpper(id)})
	}
	return Conversation{
		ID:            fmt.Sprintf("c-%d", c.nextID),
		IsGroup:       len(in.ParticipantIDs) > 1,
		Name:          in.Name,
		Participants:  parts,
		LastMessageAt: t0.Add(24 * time.Hour),
	}, nil
}

func (c *fakeChannel) FetchMessages(ctx context.Context, req MessagePageRequest) (MessagePage, error) {
	c.mu.Lock()
	c.fetches = append(c.fetches, req)
	hold := c.hold[req.ConversationID]
	var early *MessagePage
	if hold != nil && c.readBeforeHold && c.fetchErr == nil {
		p := c.pageLocked(req)
		early = &p
	}
	c.mu.Unlock()

	select {
	case c.entered <- req.ConversationID:
	default:
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return MessagePage{}, ctx.Err()
		}
	}
	if early != nil {
		return *early, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fetchErr != nil {
		return MessagePage{}, c.fetchErr
	}
	return c.pageLocked(req), nil
}

func (c *fakeChannel) pageLocked(req MessagePageRequest) MessagePage {
	all := c.history[req.ConversationID]
	end := len(all) - (req.Page-1)*c.pageSize
	if end <= 0 {
		return MessagePage{}
	}
	start := end - c.pageSize
	if start < 0 {
		start = 0
	}

	items := make([]Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		items = append(items, cloneMessage(all[i]))
	}
	return MessagePage{Items: items, HasOlder: start > 0}
}

func (c *fakeChannel) SendMessage(_ context.Context, conversationID string, d Draft) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sends = append(c.sends, d)
	if c.sendErr != nil {
		return Message{}, c.sendErr
	}

	c.nextID++
	all := c.history[conversationID]
	ts := t0.Add(48 * time.Hour)
	if n := len(all); n > 0 {
		ts = all[n-1].Timestamp.Add(time.Second)
	}
	msg := Message{
		ID:             fmt.Sprintf("%d", c.nextID),
		ConversationID: conversationID,
		ClientMsgID:    d.ClientMsgID,
		AuthorID:       "u-self",
		Type:           d.Type,
		Attachment:     d.Attachment,
		Timestamp:      ts,
		RepliedToID:    d.RepliedToID,
	}
	if d.Content != "" {
		msg.Content = strPtr(d.Content)
	}
	c.history[conversationID] = append(all, msg)
	return cloneMessage(msg), nil
}

func (c *fakeChannel) EditMessage(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits++
	return c.editErr
}

func (c *fakeChannel) ReactToMessage(_ context.Context, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reacts++
	return c.reactErr
}

func convs(prefix string, from, n int, newest time.Time) []Conversation {
	out := make([]Conversation, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Conversation{
			ID:            fmt.Sprintf("%s-%02d", prefix, from+i),
			LastMessageAt: newest.Add(-time.Duration(from+i) * time.Minute),
		})
	}
	return out
}

func ids[T Keyed](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key()
	}
	return out
}
