package realtime

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	memMaxMessagesPerConversation = 10_000
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// It implements the full Store contract, including idempotent appends,
// seq allocation, unread tracking and newest-first paging.
type InMemoryStore struct {
	mu     sync.Mutex
	convs  map[string]*memConv
	msgs   map[string]*StoredMessage // message id -> message
	direct map[string]string         // member pair -> conversation id
}

type memConv struct {
	conv     StoredConversation
	lastRead map[string]int64 // member -> last read seq
	seq      int64
	dedupe   map[string]*StoredMessage // client_msg_id -> stored message
	msgs     []*StoredMessage          // ordered by seq
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs:  make(map[string]*memConv),
		msgs:   make(map[string]*StoredMessage),
		direct: make(map[string]string),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// CreateConversation creates a conversation, or returns the existing direct one for the pair.
func (s *InMemoryStore) CreateConversation(ctx context.Context, in CreateConversationInput) (StoredConversation, error) {
	const op = "realtime.CreateConversation"

	creator := strings.TrimSpace(in.CreatorID)
	if creator == "" {
		return StoredConversation{}, invalidInput(op, "missing creator")
	}
	members := normalizeMembers(creator, in.ParticipantIDs)
	if len(members) < 2 {
		return StoredConversation{}, invalidInput(op, "at least one other participant required")
	}
	if len(members) > maxConversationMembers {
		return StoredConversation{}, invalidInput(op, "too many participants")
	}
	if err := ctx.Err(); err != nil {
		return StoredConversation{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	name := strings.TrimSpace(in.Name)
	isGroup := len(members) > 2 || name != ""

	s.mu.Lock()
	defer s.mu.Unlock()

	var key string
	if !isGroup {
		key = directKey(members[0], members[1])
		if id, ok := s.direct[key]; ok {
			return s.viewLocked(s.convs[id], creator), nil
		}
	}

	id, err := NewConversationID(now)
	if err != nil {
		return StoredConversation{}, err
	}
	c := &memConv{
		conv: StoredConversation{
			ID:            id,
			IsGroup:       isGroup,
			Name:          name,
			MemberIDs:     members,
			LastMessageAt: now,
			CreatedAt:     now,
		},
		lastRead: make(map[string]int64, len(members)),
		dedupe:   make(map[string]*StoredMessage),
	}
	for _, m := range members {
		c.lastRead[m] = 0
	}
	s.convs[id] = c
	if key != "" {
		s.direct[key] = id
	}
	return s.viewLocked(c, creator), nil
}

// ListConversations returns the user's conversations ordered by last activity.
func (s *InMemoryStore) ListConversations(ctx context.Context, in ListConversationsInput) (ListConversationsResult, error) {
	const op = "realtime.ListConversations"

	user := strings.TrimSpace(in.UserID)
	if user == "" {
		return ListConversationsResult{}, invalidInput(op, "missing user")
	}
	if err := ctx.Err(); err != nil {
		return ListConversationsResult{}, err
	}
	page := in.Page
	if page <= 0 {
		page = 1
	}
	limit := clampLimit(in.Limit, defaultConversationLimit, maxConversationLimit)

	s.mu.Lock()
	all := make([]StoredConversation, 0, 16)
	for _, c := range s.convs {
		if _, ok := c.lastRead[user]; ok {
			all = append(all, s.viewLocked(c, user))
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastMessageAt.Equal(all[j].LastMessageAt) {
			return all[i].LastMessageAt.After(all[j].LastMessageAt)
		}
		return all[i].ID > all[j].ID
	})

	start := (page - 1) * limit
	if start >= len(all) {
		return ListConversationsResult{}, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return ListConversationsResult{Items: all[start:end], HasNext: end < len(all)}, nil
}

// IsMember reports whether userID belongs to conversationID.
func (s *InMemoryStore) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[conversationID]
	if c == nil {
		return false, nil
	}
	_, ok := c.lastRead[userID]
	return ok, nil
}

// AppendMessage persists a message with idempotency and monotonic sequence allocation.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (AppendMessageResult, error) {
	const op = "realtime.AppendMessage"

	if err := validateAppend(op, &in); err != nil {
		return AppendMessageResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AppendMessageResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return AppendMessageResult{}, notFound(op, "conversation")
	}
	if _, ok := c.lastRead[in.AuthorID]; !ok {
		return AppendMessageResult{}, forbidden(op, "not a member")
	}

	if existing, ok := c.dedupe[in.ClientMsgID]; ok {
		return AppendMessageResult{Stored: cloneStored(*existing), Duplicated: true}, nil
	}
	if in.RepliedToID != "" {
		if r, ok := s.msgs[in.RepliedToID]; !ok || r.ConversationID != in.ConversationID {
			return AppendMessageResult{}, invalidInput(op, "replied_to_id not in conversation")
		}
	}

	// server_ts is strictly increasing per conversation so (server_ts, id) follows seq.
	if n := len(c.msgs); n > 0 && !now.After(c.msgs[n-1].ServerTS) {
		now = c.msgs[n-1].ServerTS.Add(time.Microsecond)
	}

	id, err := NewMessageID(now)
	if err != nil {
		return AppendMessageResult{}, err
	}

	c.seq++
	msg := &StoredMessage{
		ID:             id,
		ConversationID: in.ConversationID,
		ClientMsgID:    in.ClientMsgID,
		Seq:            c.seq,
		AuthorID:       in.AuthorID,
		Type:           in.Type,
		Content:        in.Content,
		Attachment:     in.Attachment,
		RepliedToID:    in.RepliedToID,
		ServerTS:       now,
	}
	cp := cloneStored(*msg)
	msg = &cp

	c.dedupe[in.ClientMsgID] = msg
	c.msgs = append(c.msgs, msg)
	s.msgs[msg.ID] = msg

	// The author has read everything up to their own message.
	c.lastRead[in.AuthorID] = c.seq
	preview := previewOf(*msg)
	c.conv.LastMessagePreview = &preview
	c.conv.LastMessageAt = now

	// Bound memory to avoid unbounded growth in dev.
	if over := len(c.msgs) - memMaxMessagesPerConversation; over > 0 {
		for _, old := range c.msgs[:over] {
			delete(s.msgs, old.ID)
			delete(c.dedupe, old.ClientMsgID)
		}
		c.msgs = c.msgs[over:]
	}

	return AppendMessageResult{Stored: cloneStored(*msg), Duplicated: false}, nil
}

// FetchHistory returns one newest-first window.
func (s *InMemoryStore) FetchHistory(ctx context.Context, in FetchHistoryInput) (FetchHistoryResult, error) {
	const op = "realtime.FetchHistory"

	if strings.TrimSpace(in.ConversationID) == "" {
		return FetchHistoryResult{}, invalidInput(op, "missing conversation_id")
	}
	if err := ctx.Err(); err != nil {
		return FetchHistoryResult{}, err
	}
	limit := clampLimit(in.Limit, defaultHistoryLimit, maxHistoryLimit)
	page := in.Page
	if page <= 0 {
		page = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[in.ConversationID]
	if c == nil {
		return FetchHistoryResult{}, notFound(op, "conversation")
	}
	if in.ViewerID != "" {
		if _, ok := c.lastRead[in.ViewerID]; !ok {
			return FetchHistoryResult{}, forbidden(op, "not a member")
		}
	}

	var end int
	if in.BeforeID != "" {
		end = indexOfMessage(c.msgs, in.BeforeID)
		if end < 0 {
			return FetchHistoryResult{}, notFound(op, "before message")
		}
	} else {
		end = len(c.msgs) - (page-1)*limit
		if end <= 0 {
			return FetchHistoryResult{}, nil
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]StoredMessage, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, cloneStored(*c.msgs[i]))
	}

	if in.ViewerID != "" && in.BeforeID == "" && page == 1 {
		c.lastRead[in.ViewerID] = c.seq
	}
	return FetchHistoryResult{Messages: out, HasOlder: start > 0}, nil
}

// EditMessage replaces the content of an own message.
func (s *InMemoryStore) EditMessage(ctx context.Context, in EditMessageInput) (StoredMessage, error) {
	const op = "realtime.EditMessage"

	if err := normalizeEdit(op, &in); err != nil {
		return StoredMessage{}, err
	}
	if err := ctx.Err(); err != nil {
		return StoredMessage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.msgs[in.MessageID]
	if m == nil {
		return StoredMessage{}, notFound(op, "message")
	}
	if m.AuthorID != in.EditorID {
		return StoredMessage{}, forbidden(op, "only the author may edit")
	}

	content := in.Content
	m.Content = &content
	m.Edited = true

	if c := s.convs[m.ConversationID]; c != nil && len(c.msgs) > 0 && c.msgs[len(c.msgs)-1].ID == m.ID {
		preview := previewOf(*m)
		c.conv.LastMessagePreview = &preview
	}
	return cloneStored(*m), nil
}

// AddReaction records (user, type) on a message; repeats are no-ops.
func (s *InMemoryStore) AddReaction(ctx context.Context, in AddReactionInput) (AddReactionResult, error) {
	const op = "realtime.AddReaction"

	if err := normalizeReaction(op, &in); err != nil {
		return AddReactionResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AddReactionResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.msgs[in.MessageID]
	if m == nil {
		return AddReactionResult{}, notFound(op, "message")
	}
	c := s.convs[m.ConversationID]
	if _, ok := c.lastRead[in.UserID]; !ok {
		return AddReactionResult{}, forbidden(op, "not a member")
	}

	for _, r := range m.Reactions {
		if r.UserID == in.UserID && r.Type == in.Type {
			return AddReactionResult{Stored: cloneStored(*m), Added: false}, nil
		}
	}
	m.Reactions = append(m.Reactions, StoredReaction{UserID: in.UserID, Type: in.Type})
	return AddReactionResult{Stored: cloneStored(*m), Added: true}, nil
}

// viewLocked returns c as seen by viewer. Caller holds s.mu.
func (s *InMemoryStore) viewLocked(c *memConv, viewer string) StoredConversation {
	out := c.conv
	out.MemberIDs = append([]string(nil), c.conv.MemberIDs...)
	if c.conv.LastMessagePreview != nil {
		p := *c.conv.LastMessagePreview
		out.LastMessagePreview = &p
	}

	read := c.lastRead[viewer]
	for i := len(c.msgs) - 1; i >= 0 && c.msgs[i].Seq > read; i-- {
		if c.msgs[i].AuthorID != viewer {
			out.UnreadCount++
		}
	}
	return out
}

func indexOfMessage(msgs []*StoredMessage, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func directKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x1f" + b
}

func cloneStored(m StoredMessage) StoredMessage {
	if m.Content != nil {
		c := *m.Content
		m.Content = &c
	}
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	if m.Reactions != nil {
		m.Reactions = append([]StoredReaction(nil), m.Reactions...)
	}
	return m
}
