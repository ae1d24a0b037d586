package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "hrchat/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout   = 5 * time.Second
	wsDefaultReadIdle       = 2 * time.Minute
	wsDefaultRequestTimeout = 10 * time.Second
	wsCloseGrace            = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed.
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Wire error codes that do not come from the store.
const (
	codeBadJSON         = "bad_json"
	codeBadEnvelope     = "bad_envelope"
	codeUnsupported     = "unsupported"
	codeUnauthenticated = "unauthenticated"
	codeRateLimited     = "rate_limited"
	codeHelloFailed     = "hello_failed"
)

var errBadJSON = errors.New("bad json")

// WSGateway is the WebSocket entrypoint for hrchat.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// and answers every request envelope with exactly one reply (or error) whose
// reply_to is the request id.
type WSGateway struct {
	log     *slog.Logger
	store   Store
	metrics *GatewayMetrics
	now     func() time.Time

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	requestTimeout  time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// GatewayOption customizes a WSGateway.
type GatewayOption func(*WSGateway)

// WithGatewayMetrics records session and request metrics.
func WithGatewayMetrics(m *GatewayMetrics) GatewayOption {
	return func(g *WSGateway) { g.metrics = m }
}

// WithClock overrides the time source used for server timestamps.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *WSGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewWSGateway constructs a gateway with secure defaults read from HRCHAT_WS_* variables.
// When store is nil it falls back to an in-memory store for dev.
func NewWSGateway(log *slog.Logger, store Store, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if store == nil {
		store = NewInMemoryStore()
	}

	g := &WSGateway{
		log:   log,
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}

	// InsecureSkipVerify disables the library's origin check entirely. Dev only.
	g.devInsecure = envBoolWS("HRCHAT_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("HRCHAT_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("HRCHAT_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("HRCHAT_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("HRCHAT_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)
	g.requestTimeout = envDurationWS("HRCHAT_WS_REQUEST_TIMEOUT", wsDefaultRequestTimeout)

	g.sendQueueSize = envIntWS("HRCHAT_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("HRCHAT_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("HRCHAT_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("HRCHAT_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("HRCHAT_WS_RATE_WINDOW", rateLimitWindow)

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the request loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(g.now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	client := NewClient("", sessionID, g.sendQueueSize)

	g.metrics.sessionOpened()
	defer g.metrics.sessionClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "", codeBadJSON, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(g.now()) {
			g.trySendError(ctx, client, env.ID, codeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, env.ID, codeBadEnvelope, err.Error())
			continue readLoop
		}
		if !v1.IsRequest(env.Type) {
			g.trySendError(ctx, client, env.ID, codeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
			continue readLoop
		}

		if env.Type == v1.TypeHello {
			if err := g.onHello(ctx, client, env); err != nil {
				g.metrics.request(env.Type, err)
				g.trySendError(ctx, client, env.ID, codeHelloFailed, err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			g.metrics.request(env.Type, nil)
			continue readLoop
		}

		if !client.Authenticated() {
			g.trySendError(ctx, client, env.ID, codeUnauthenticated, "hello first")
			continue readLoop
		}

		reply, err := g.dispatch(ctx, client, env)
		g.metrics.request(env.Type, err)
		if err != nil {
			g.replyError(ctx, client, env, err)
			continue readLoop
		}
		if !g.enqueue(ctx, client, reply) {
			g.log.Info("ws.backpressure", "session_id", sessionID, "type", reply.Type)
			shutdown(websocket.StatusPolicyViolation, "backpressure")
			break readLoop
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// dispatch runs one authenticated request and builds its reply envelope.
func (g *WSGateway) dispatch(parent context.Context, client *Client, env v1.Envelope) (v1.Envelope, error) {
	ctx, cancel := context.WithTimeout(parent, g.requestTimeout)
	defer cancel()

	var (
		typ     string
		payload any
		err     error
	)
	switch env.Type {
	case v1.TypeConversationsFetch:
		typ = v1.TypeConversationsPage
		payload, err = g.onConversationsFetch(ctx, client, env)
	case v1.TypeConversationStart:
		typ = v1.TypeConversationStarted
		payload, err = g.onConversationStart(ctx, client, env)
	case v1.TypeMessagesFetch:
		typ = v1.TypeMessagesPage
		payload, err = g.onMessagesFetch(ctx, client, env)
	case v1.TypeMessageSend:
		typ = v1.TypeMessageAck
		payload, err = g.onMessageSend(ctx, client, env)
	case v1.TypeMessageEdit:
		typ = v1.TypeMessageEdited
		payload, err = g.onMessageEdit(ctx, client, env)
	case v1.TypeMessageReact:
		typ = v1.TypeMessageReacted
		payload, err = g.onMessageReact(ctx, client, env)
	default:
		return v1.Envelope{}, invalidInput("realtime.dispatch", "unsupported type: "+env.Type)
	}
	if err != nil {
		return v1.Envelope{}, err
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	return g.newReply(typ, env.ID, b), nil
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if err := decodePayload("realtime.hello", env, &p); err != nil {
		return err
	}

	user := strings.TrimSpace(p.UserID)
	if user == "" {
		return invalidInput("realtime.hello", "missing user_id")
	}
	if client.Authenticated() && client.UserID != user {
		return forbidden("realtime.hello", "session already bound to another user")
	}
	client.UserID = user

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: client.SessionID, UserID: user})
	if !g.enqueue(ctx, client, g.newReply(v1.TypeHelloAck, env.ID, ackPayload)) {
		return errors.New("backpressure: hello_ack")
	}

	g.log.Info("ws.hello", "session_id", client.SessionID, "user_id", user)
	return nil
}

func (g *WSGateway) onConversationsFetch(ctx context.Context, client *Client, env v1.Envelope) (any, error) {
	var p v1.ConversationsFetchPayload
	if err := decodePayload("realtime.conversations_fetch", env, &p); err != nil {
		return nil, err
	}
	if p.Page <= 0 {
		p.Page = 1
	}

	res, err := g.store.ListConversations(ctx, ListConversationsInput{
		UserID: client.UserID,
		Page:   p.Page,
		Limit:  p.Limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]v1.ConversationPayload, 0, len(res.Items))
	for _, c := range res.Items {
		items = append(items, conversationPayload(c))
	}
	return v1.ConversationsPagePayload{Page: p.Page, Items: items, HasNext: res.HasNext}, nil
}

func (g *WSGateway) onConversationStart(ctx context.Context, client *Client, env v1.Envelope) (any, error) {
	var p v1.ConversationStartPayload
	if err := decodePayload("realtime.conversation_start", env, &p); err != nil {
		return nil, err
	}

	c, err := g.store.CreateConversation(ctx, CreateConversationInput{
		CreatorID:      client.UserID,
		ParticipantIDs: p.ParticipantIDs,
		Name:           p.Name,
		Now:            g.now(),
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("ws.conversation.start", "session_id", client.SessionID, "conversation_id", c.ID, "members", len(c.MemberIDs))
	return v1.ConversationStartedPayload{Conversation: conversationPayload(c)}, nil
}

func (g *WSGateway) onMessagesFetch(ctx context.Context, client *Client, env v1.Envelope) (any, error) {
	var p v1.MessagesFetchPayload
	if err := decodePayload("realtime.messages_fetch", env, &p); err != nil {
		return nil, err
	}
	if p.Page <= 0 {
		p.Page = 1
	}

	res, err := g.store.FetchHistory(ctx, FetchHistoryInput{
		ConversationID: strings.TrimSpace(p.ConversationID),
		ViewerID:       client.UserID,
		Page:           p.Page,
		BeforeID:       strings.TrimSpace(p.Before),
		Limit:          p.Limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]v1.MessagePayload, 0, len(res.Messages))
	for _, m := range res.Messages {
		items = append(items, messagePayload(m))
	}
	return v1.MessagesPagePayload{
		ConversationID: p.ConversationID,
		Page:           p.Page,
		Items:          items,
		HasOlder:       res.HasOlder,
	}, nil
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope) (any, error) {
	var p v1.MessageSendPayload
	if err := decodePayload("realtime.message_send", env, &p); err != nil {
		return nil, err
	}

	res, err := g.store.AppendMessage(ctx, AppendMessageInput{
		ConversationID: p.ConversationID,
		ClientMsgID:    p.ClientMsgID,
		AuthorID:       client.UserID,
		Type:           p.Type,
		Content:        p.Content,
		Attachment:     attachmentInput(p.Attachment),
		RepliedToID:    p.RepliedToID,
		Now:            g.now(),
	})
	if err != nil {
		return nil, err
	}

	if res.Duplicated {
		g.log.Debug("ws.message.duplicate", "session_id", client.SessionID, "conversation_id", res.Stored.ConversationID, "client_msg_id", res.Stored.ClientMsgID)
	}
	return v1.MessageAckPayload{Message: messagePayload(res.Stored), Duplicate: res.Duplicated}, nil
}

func (g *WSGateway) onMessageEdit(ctx context.Context, client *Client, env v1.Envelope) (any, error) {
	var p v1.MessageEditPayload
	if err := decodePayload("realtime.message_edit", env, &p); err != nil {
		return nil, err
	}

	m, err := g.store.EditMessage(ctx, EditMessageInput{
		MessageID: p.MessageID,
		EditorID:  client.UserID,
		Content:   p.Content,
	})
	if err != nil {
		return nil, err
	}
	return v1.MessageEditedPayload{MessageID: m.ID}, nil
}

func (g *WSGateway) onMessageReact(ctx context.Context, client *Client, env v1.Envelope) (any, error) {
	var p v1.MessageReactPayload
	if err := decodePayload("realtime.message_react", env, &p); err != nil {
		return nil, err
	}

	res, err := g.store.AddReaction(ctx, AddReactionInput{
		MessageID: p.MessageID,
		UserID:    client.UserID,
		Type:      p.Type,
	})
	if err != nil {
		return nil, err
	}
	return v1.MessageReactedPayload{MessageID: res.Stored.ID}, nil
}

func decodePayload(op string, env v1.Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return invalidInput(op, "invalid payload")
	}
	return nil
}

// ---- send helpers ----

// replyError answers req with an error envelope. Store kinds map to stable
// codes; anything else is logged and reported as internal.
func (g *WSGateway) replyError(ctx context.Context, client *Client, req v1.Envelope, err error) {
	code := errorCode(err)
	msg := err.Error()

	var se StoreError
	switch {
	case errors.As(err, &se) && se.Msg != "":
		msg = se.Msg
	case code == "internal":
		g.log.Error("ws.request.fail", "session_id", client.SessionID, "type", req.Type, "err", err)
		msg = "internal error"
	}
	g.trySendError(ctx, client, req.ID, code, msg)
}

func (g *WSGateway) trySendError(ctx context.Context, client *Client, replyTo, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, g.newReply(v1.TypeError, replyTo, p))
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func (g *WSGateway) newReply(typ, replyTo string, payload json.RawMessage) v1.Envelope {
	ts := g.now()
	id, err := NewEnvelopeID(ts)
	if err != nil {
		id = NewRandomHex(10)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		ReplyTo: replyTo,
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("%w: %v", errBadJSON, err)
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	switch {
	case errors.Is(err, errBadJSON):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores port and scheme.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins returns the sorted hosts of the allowlist,
// matched by websocket.Accept with filepath.Match semantics.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
