package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// FeedState is the per-conversation loading state of a MessageFeed.
type FeedState uint8

const (
	StateUninitialized FeedState = iota
	StateLoading
	StateReady
	StateLoadingOlder
)

func (s FeedState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingOlder:
		return "loading_older"
	default:
		return "unknown"
	}
}

// MessageFeed is the bidirectional message window of the active conversation,
// kept ascending by timestamp.
//
// State machine: Uninitialized -> Loading -> Ready <-> LoadingOlder.
// Switching conversations discards the previous owner's pages, fetch guard and
// pending scroll correction before the new load starts.
type MessageFeed struct {
	ch    MessageChannel
	store *PageStore[Message]
	o     options

	mu    sync.Mutex
	owner string
	state FeedState
	// pending holds messages acknowledged while the initial window is loading.
	// They are merged after page 1 since that page may predate them.
	pending []Message
}

// NewMessageFeed constructs an uninitialized feed over ch.
func NewMessageFeed(ch MessageChannel, opts ...Option) *MessageFeed {
	return &MessageFeed{
		ch:    ch,
		store: NewPageStore(OrderBy(messageLess)),
		o:     buildOptions(opts),
	}
}

// LoadInitial makes conversationID the owner and loads its most recent window.
// Calling it for the current owner while Ready refreshes the window.
func (f *MessageFeed) LoadInitial(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return invalid("conversation_id", "required")
	}

	f.mu.Lock()
	if conversationID == f.owner && (f.state == StateLoading || f.state == StateLoadingOlder) {
		f.mu.Unlock()
		f.o.metrics.rejected(feedMessages)
		return ErrFetchInFlight
	}

	if prev := f.owner; prev != "" && prev != conversationID {
		f.store.Reset(prev)
		f.o.log.Debug("feed.messages.switch", "from", prev, "to", conversationID)
	}
	f.store.Reset(conversationID)
	f.o.anchor.Discard()
	f.pending = nil

	f.owner = conversationID
	f.state = StateLoading
	t, _, err := f.store.Begin(conversationID)
	if err != nil {
		f.state = StateUninitialized
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	// The previous window is gone; observers must not keep rendering it.
	f.changed()

	page, err := f.ch.FetchMessages(ctx, MessagePageRequest{ConversationID: conversationID, Page: 1})
	f.o.metrics.fetch(feedMessages, err)

	f.mu.Lock()
	if !f.store.Valid(t) {
		f.mu.Unlock()
		f.discardStale(conversationID, "load_initial")
		return nil
	}
	if err != nil {
		f.store.Abort(t)
		f.state = StateUninitialized
		f.pending = nil
		f.mu.Unlock()
		f.o.log.Info("feed.messages.load_initial.fail", "conversation_id", conversationID, "err", err)
		return &OpError{Op: OpFetchMessages, Target: conversationID, Err: err}
	}

	if _, err := f.store.Merge(t, 1, ascending(conversationID, page.Items), Prepend, CursorInfo{HasMoreBackward: page.HasOlder}); err != nil {
		f.store.Abort(t)
		f.state = StateUninitialized
		f.pending = nil
		f.mu.Unlock()
		return err
	}
	late := 0
	for _, m := range f.pending {
		if f.store.Append(conversationID, m) {
			late++
		}
	}
	f.pending = nil
	total := f.store.Len(conversationID)
	f.state = StateReady
	f.mu.Unlock()

	f.o.log.Debug("feed.messages.load_initial", "conversation_id", conversationID, "count", total, "late", late, "has_older", page.HasOlder)
	f.changed()
	return nil
}

// LoadOlder fetches the next older window and prepends it.
// Only valid in StateReady with HasMoreBackward.
func (f *MessageFeed) LoadOlder(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case StateReady:
	case StateLoading, StateLoadingOlder:
		f.mu.Unlock()
		f.o.metrics.rejected(feedMessages)
		return ErrFetchInFlight
	default:
		f.mu.Unlock()
		return ErrNotReady
	}

	owner := f.owner
	if !f.store.Cursor(owner).HasMoreBackward {
		f.mu.Unlock()
		return ErrNoMorePages
	}

	t, cur, err := f.store.Begin(owner)
	if err != nil {
		f.mu.Unlock()
		f.o.metrics.rejected(feedMessages)
		return err
	}

	var oldest string
	if items := f.store.Items(owner); len(items) > 0 {
		oldest = items[0].ID
	}
	nextPage := cur.Page + 1
	f.state = StateLoadingOlder
	f.mu.Unlock()

	page, err := f.ch.FetchMessages(ctx, MessagePageRequest{ConversationID: owner, Page: nextPage, Before: oldest})
	f.o.metrics.fetch(feedMessages, err)

	f.mu.Lock()
	if !f.store.Valid(t) {
		f.mu.Unlock()
		f.discardStale(owner, "load_older")
		return nil
	}
	if err != nil {
		f.store.Abort(t)
		f.state = StateReady
		f.mu.Unlock()
		f.o.log.Info("feed.messages.load_older.fail", "conversation_id", owner, "page", nextPage, "err", err)
		return &OpError{Op: OpFetchMessages, Target: owner, Err: err}
	}
	count := f.store.Len(owner)
	f.mu.Unlock()

	// The viewport may read the feed to measure itself, so f.mu is not held
	// while it is consulted.
	snap := f.o.anchor.Capture(count)

	f.mu.Lock()
	if !f.store.Valid(t) {
		f.mu.Unlock()
		f.discardStale(owner, "load_older")
		return nil
	}
	out, err := f.store.Merge(t, nextPage, ascending(owner, page.Items), Prepend, CursorInfo{HasMoreBackward: page.HasOlder})
	if err != nil {
		f.store.Abort(t)
		f.state = StateReady
		f.mu.Unlock()
		return err
	}
	f.state = StateReady
	f.mu.Unlock()

	f.o.anchor.Apply(snap)

	f.o.log.Debug("feed.messages.load_older", "conversation_id", owner, "page", nextPage, "added", out.Added, "total", len(out.Items), "has_older", page.HasOlder)

	if f.o.onPrepend != nil {
		f.o.onPrepend(PrependEvent{ConversationID: owner, Added: out.Added, Snapshot: snap})
	}
	f.changed()
	return nil
}

// SentinelVisible is the "top sentinel became visible" event.
// Exhaustion, in-flight fetches and loads before the feed is ready are expected here.
func (f *MessageFeed) SentinelVisible(ctx context.Context) error {
	err := f.LoadOlder(ctx)
	if errors.Is(err, ErrNoMorePages) || errors.Is(err, ErrFetchInFlight) || errors.Is(err, ErrNotReady) {
		return nil
	}
	return err
}

// AppendSent appends an acknowledged message to the tail of the window.
//
// It reports whether a new entry was added. Messages for another conversation
// are dropped. While the initial window is loading the message is held and
// merged once page 1 lands; it is not reported as added until then.
func (f *MessageFeed) AppendSent(msg Message) (bool, error) {
	if strings.TrimSpace(msg.ID) == "" {
		return false, invalid("id", "message is not acknowledged")
	}

	f.mu.Lock()
	owner, state := f.owner, f.state
	if msg.ConversationID != owner {
		f.mu.Unlock()
		f.o.log.Debug("feed.messages.append.other_owner", "conversation_id", msg.ConversationID, "owner", owner, "message_id", msg.ID)
		return false, nil
	}
	switch state {
	case StateReady, StateLoadingOlder:
	case StateLoading:
		f.pending = append(f.pending, cloneMessage(msg))
		f.mu.Unlock()
		f.o.log.Debug("feed.messages.append.deferred", "conversation_id", owner, "message_id", msg.ID)
		return false, nil
	default:
		f.mu.Unlock()
		f.o.log.Debug("feed.messages.append.skip", "conversation_id", owner, "message_id", msg.ID, "state", state.String())
		return false, nil
	}
	added := f.store.Append(owner, cloneMessage(msg))
	f.mu.Unlock()

	if added {
		f.changed()
	}
	return added, nil
}

// patch applies fn to a copy of the held message and stores the result.
// It reports false when the message is not in the active window.
func (f *MessageFeed) patch(messageID string, fn func(*Message) bool) (string, bool) {
	f.mu.Lock()
	owner := f.owner
	if owner == "" {
		f.mu.Unlock()
		return "", false
	}
	ok := f.store.Update(owner, messageID, func(m *Message) bool {
		cp := cloneMessage(*m)
		if !fn(&cp) {
			return false
		}
		*m = cp
		return true
	})
	f.mu.Unlock()

	if ok {
		f.changed()
	}
	return owner, ok
}

// Get returns the held message with the given id.
func (f *MessageFeed) Get(messageID string) (Message, bool) {
	f.mu.Lock()
	owner := f.owner
	f.mu.Unlock()
	if owner == "" {
		return Message{}, false
	}
	return f.store.Get(owner, messageID)
}

// Items returns a snapshot of the window, ascending.
func (f *MessageFeed) Items() []Message {
	f.mu.Lock()
	owner := f.owner
	f.mu.Unlock()
	if owner == "" {
		return nil
	}
	return f.store.Items(owner)
}

// Owner returns the conversation the feed currently holds.
func (f *MessageFeed) Owner() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owner
}

// State returns the loading state of the current owner.
func (f *MessageFeed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// HasMoreBackward reports whether older history may be loaded.
func (f *MessageFeed) HasMoreBackward() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner == "" {
		return false
	}
	return f.store.Cursor(f.owner).HasMoreBackward
}

// IsFetching reports whether a fetch for the current owner is outstanding.
func (f *MessageFeed) IsFetching() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner == "" {
		return false
	}
	return f.store.Cursor(f.owner).Fetching
}

func (f *MessageFeed) discardStale(conversationID, op string) {
	f.o.metrics.stale(feedMessages)
	f.o.log.Debug("feed.messages.stale", "conversation_id", conversationID, "op", op)
}

func (f *MessageFeed) changed() {
	if f.o.onChange != nil {
		f.o.onChange()
	}
}

// ascending reverses a newest-first page and drops items of other conversations.
func ascending(conversationID string, newestFirst []Message) []Message {
	out := make([]Message, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if m.ConversationID != "" && m.ConversationID != conversationID {
			continue
		}
		m.ConversationID = conversationID
		out = append(out, cloneMessage(m))
	}
	return out
}
