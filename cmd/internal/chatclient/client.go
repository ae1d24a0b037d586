// Package chatclient implements the engine's request/response channel over
// the hrchat v1 websocket protocol, plus an HTTP attachment uploader.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"hrchat/cmd/internal/chat"
	"hrchat/cmd/internal/ids"
	v1 "hrchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	maxReadBytes          = 1 << 20
)

// ErrClosed is returned by requests issued on, or pending when, the connection closes.
var ErrClosed = errors.New("chatclient: connection closed")

// RemoteError is an error reply from the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "remote: " + e.Code
	}
	return fmt.Sprintf("remote: %s: %s", e.Code, e.Message)
}

// Is lets callers match server-side validation failures with chat.ErrInvalidInput.
func (e *RemoteError) Is(target error) bool {
	return target == chat.ErrInvalidInput && e.Code == "invalid_input"
}

// Option configures a Client.
type Option func(*options)

type options struct {
	log               *slog.Logger
	origin            string
	requestTimeout    time.Duration
	messageLimit      int
	conversationLimit int
	httpClient        *http.Client
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithOrigin sets the Origin header sent on the websocket handshake.
func WithOrigin(origin string) Option {
	return func(o *options) { o.origin = strings.TrimSpace(origin) }
}

// WithRequestTimeout bounds requests whose context has no deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithPageSizes overrides the server's default page sizes (0 keeps the default).
func WithPageSizes(messages, conversations int) Option {
	return func(o *options) {
		o.messageLimit = messages
		o.conversationLimit = conversations
	}
}

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// Client is a chat.Channel speaking the v1 protocol on one websocket.
// Replies are matched to requests by envelope id; requests may be issued concurrently.
type Client struct {
	conn *websocket.Conn
	o    options

	userID    string
	sessionID string

	mu      sync.Mutex
	pending map[string]chan v1.Envelope
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

var _ chat.Channel = (*Client)(nil)

// Dial connects to wsURL, negotiates the v1 subprotocol and says hello as userID.
func Dial(ctx context.Context, wsURL, userID string, opts ...Option) (*Client, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("chatclient: empty user id")
	}

	o := options{requestTimeout: defaultRequestTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	h := http.Header{}
	if o.origin != "" {
		h.Set("Origin", o.origin)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
		HTTPClient:   o.httpClient,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("chatclient: dial: %w", err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("chatclient: server selected subprotocol %q", sp)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &Client{
		conn:    conn,
		o:       o,
		userID:  userID,
		pending: make(map[string]chan v1.Envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	var ack v1.HelloAckPayload
	if err := c.do(ctx, v1.TypeHello, v1.HelloPayload{UserID: userID}, v1.TypeHelloAck, &ack); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("chatclient: hello: %w", err)
	}
	c.sessionID = ack.SessionID

	o.log.Info("chatclient.connected", "user_id", userID, "session_id", ack.SessionID)
	return c, nil
}

// UserID is the user this session acts as.
func (c *Client) UserID() string { return c.userID }

// SessionID is the server-assigned session id.
func (c *Client) SessionID() string { return c.sessionID }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close closes the websocket and fails pending requests with ErrClosed. Idempotent.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	if err := c.conn.Close(websocket.StatusNormalClosure, "bye"); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.pending = nil
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, net.ErrClosed) {
				c.o.log.Info("chatclient.read.fail", "session_id", c.sessionID, "err", err)
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.o.log.Warn("chatclient.read.bad_json", "err", err)
			continue
		}
		if env.ReplyTo == "" {
			// Connection-level errors (bad_json) carry no reply_to.
			c.o.log.Debug("chatclient.read.unsolicited", "type", env.Type)
			continue
		}

		c.mu.Lock()
		ch := c.pending[env.ReplyTo]
		delete(c.pending, env.ReplyTo)
		c.mu.Unlock()

		if ch != nil {
			ch <- env
		}
	}
}

// do sends one request and decodes the matching reply into out.
func (c *Client) do(ctx context.Context, typ string, payload any, want string, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.o.requestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}

	ch := make(chan v1.Envelope, 1)
	c.mu.Lock()
	if c.pending == nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	raw, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: now, Payload: body})
	if err != nil {
		return err
	}

	wctx, wcancel := context.WithTimeout(ctx, defaultWriteTimeout)
	err = c.conn.Write(wctx, websocket.MessageText, raw)
	wcancel()
	if err != nil {
		return fmt.Errorf("write %s: %w", typ, err)
	}

	var reply v1.Envelope
	select {
	case reply = <-ch:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return err
	}

	if reply.Type == v1.TypeError {
		var p v1.ErrorPayload
		_ = json.Unmarshal(reply.Payload, &p)
		return &RemoteError{Code: p.Code, Message: p.Message}
	}
	if reply.Type != want {
		return fmt.Errorf("chatclient: %s answered with %q, want %q", typ, reply.Type, want)
	}
	if out == nil || len(reply.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	return nil
}

// ---- chat.Channel ----

// FetchConversations implements chat.ConversationChannel.
func (c *Client) FetchConversations(ctx context.Context, page int) (chat.ConversationPage, error) {
	var p v1.ConversationsPagePayload
	if err := c.do(ctx, v1.TypeConversationsFetch, v1.ConversationsFetchPayload{
		Page:  page,
		Limit: c.o.conversationLimit,
	}, v1.TypeConversationsPage, &p); err != nil {
		return chat.ConversationPage{}, err
	}

	out := chat.ConversationPage{Items: make([]chat.Conversation, 0, len(p.Items)), HasNext: p.HasNext}
	for _, it := range p.Items {
		out.Items = append(out.Items, toConversation(it))
	}
	return out, nil
}

// StartConversation implements chat.ConversationChannel.
func (c *Client) StartConversation(ctx context.Context, in chat.StartConversationInput) (chat.Conversation, error) {
	var p v1.ConversationStartedPayload
	if err := c.do(ctx, v1.TypeConversationStart, v1.ConversationStartPayload{
		ParticipantIDs: in.ParticipantIDs,
		Name:           in.Name,
	}, v1.TypeConversationStarted, &p); err != nil {
		return chat.Conversation{}, err
	}
	return toConversation(p.Conversation), nil
}

// FetchMessages implements chat.MessageChannel.
func (c *Client) FetchMessages(ctx context.Context, req chat.MessagePageRequest) (chat.MessagePage, error) {
	var p v1.MessagesPagePayload
	if err := c.do(ctx, v1.TypeMessagesFetch, v1.MessagesFetchPayload{
		ConversationID: req.ConversationID,
		Page:           req.Page,
		Before:         req.Before,
		Limit:          c.o.messageLimit,
	}, v1.TypeMessagesPage, &p); err != nil {
		return chat.MessagePage{}, err
	}

	out := chat.MessagePage{Items: make([]chat.Message, 0, len(p.Items)), HasOlder: p.HasOlder}
	for _, it := range p.Items {
		out.Items = append(out.Items, toMessage(it))
	}
	return out, nil
}

// SendMessage implements chat.MutationChannel.
func (c *Client) SendMessage(ctx context.Context, conversationID string, d chat.Draft) (chat.Message, error) {
	req := v1.MessageSendPayload{
		ConversationID: conversationID,
		ClientMsgID:    d.ClientMsgID,
		Type:           string(d.Type),
		RepliedToID:    d.RepliedToID,
	}
	if d.Content != "" {
		content := d.Content
		req.Content = &content
	}
	if a := d.Attachment; a != nil {
		req.Attachment = &v1.AttachmentPayload{
			URL:      a.URL,
			Filename: a.Filename,
			Size:     a.Size,
			MimeType: a.MimeType,
		}
	}

	var p v1.MessageAckPayload
	if err := c.do(ctx, v1.TypeMessageSend, req, v1.TypeMessageAck, &p); err != nil {
		return chat.Message{}, err
	}
	if p.Duplicate {
		c.o.log.Debug("chatclient.send.duplicate", "conversation_id", conversationID, "client_msg_id", d.ClientMsgID)
	}
	return toMessage(p.Message), nil
}

// EditMessage implements chat.MutationChannel.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) error {
	return c.do(ctx, v1.TypeMessageEdit, v1.MessageEditPayload{MessageID: messageID, Content: content}, v1.TypeMessageEdited, nil)
}

// ReactToMessage implements chat.MutationChannel.
func (c *Client) ReactToMessage(ctx context.Context, messageID, reactionType string) error {
	return c.do(ctx, v1.TypeMessageReact, v1.MessageReactPayload{MessageID: messageID, Type: reactionType}, v1.TypeMessageReacted, nil)
}

func toConversation(p v1.ConversationPayload) chat.Conversation {
	out := chat.Conversation{
		ID:                 p.ID,
		IsGroup:            p.IsGroup,
		Name:               p.Name,
		Participants:       make([]chat.UserSummary, 0, len(p.Participants)),
		LastMessagePreview: p.LastMessagePreview,
		LastMessageAt:      p.LastMessageTS,
		UnreadCount:        p.UnreadCount,
	}
	for _, u := range p.Participants {
		out.Participants = append(out.Participants, chat.UserSummary{ID: u.ID, Name: u.Name})
	}
	return out
}

func toMessage(p v1.MessagePayload) chat.Message {
	out := chat.Message{
		ID:             p.ID,
		ConversationID: p.ConversationID,
		ClientMsgID:    p.ClientMsgID,
		AuthorID:       p.AuthorID,
		Type:           chat.MessageType(p.Type),
		Content:        p.Content,
		Timestamp:      p.ServerTS,
		IsEdited:       p.Edited,
		RepliedToID:    p.RepliedToID,
	}
	if a := p.Attachment; a != nil {
		out.Attachment = &chat.Attachment{URL: a.URL, Filename: a.Filename, Size: a.Size, MimeType: a.MimeType}
	}
	for _, r := range p.Reactions {
		out.Reactions = append(out.Reactions, chat.Reaction{UserID: r.UserID, Type: r.Type})
	}
	return out
}
