package chatclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hrchat/cmd/internal/chat"
	"hrchat/cmd/internal/realtime"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testServer struct {
	wsURL   string
	httpURL string
}

func newTestServer(t *testing.T, uploadOpts ...realtime.UploadOption) testServer {
	t.Helper()

	gw := realtime.NewWSGateway(quietLogger, realtime.NewInMemoryStore())
	up, err := realtime.NewUploadHandler(quietLogger, t.TempDir(), uploadOpts...)
	if err != nil {
		t.Fatalf("upload handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	up.Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return testServer{wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", httpURL: ts.URL}
}

func mustDial(t *testing.T, srv testServer, userID string, opts ...Option) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts = append([]Option{WithOrigin("http://localhost"), WithLogger(quietLogger)}, opts...)
	c, err := Dial(ctx, srv.wsURL, userID, opts...)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustStart(t *testing.T, c *Client, others ...string) chat.Conversation {
	t.Helper()
	conv, err := c.StartConversation(context.Background(), chat.StartConversationInput{ParticipantIDs: others})
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	return conv
}

func TestClient_RoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := mustDial(t, srv, "alice")
	bob := mustDial(t, srv, "bob")
	if alice.SessionID() == "" || alice.UserID() != "alice" {
		t.Fatalf("session: %q %q", alice.SessionID(), alice.UserID())
	}

	conv := mustStart(t, alice, "bob")
	if conv.DisplayName("alice") != "bob" {
		t.Fatalf("display name: %q", conv.DisplayName("alice"))
	}

	draft := chat.Draft{ClientMsgID: "cmsg-1", Type: chat.MessageText, Content: "hi bob"}
	first, err := alice.SendMessage(ctx, conv.ID, draft)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	again, err := alice.SendMessage(ctx, conv.ID, draft)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if first.ID == "" || again.ID != first.ID || first.Timestamp.IsZero() || first.AuthorID != "alice" {
		t.Fatalf("send acks: %+v / %+v", first, again)
	}

	list, err := bob.FetchConversations(ctx, 1)
	if err != nil {
		t.Fatalf("fetch conversations: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].UnreadCount != 1 || list.Items[0].ID != conv.ID {
		t.Fatalf("bob list: %+v", list)
	}

	if err := bob.ReactToMessage(ctx, first.ID, "like"); err != nil {
		t.Fatalf("react: %v", err)
	}
	if err := alice.EditMessage(ctx, first.ID, "hi, bob"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	page, err := bob.FetchMessages(ctx, chat.MessagePageRequest{ConversationID: conv.ID, Page: 1})
	if err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	if len(page.Items) != 1 || page.HasOlder {
		t.Fatalf("page: %+v", page)
	}
	got := page.Items[0]
	if *got.Content != "hi, bob" || !got.IsEdited || !got.HasReaction("bob", "like") {
		t.Fatalf("message: %+v", got)
	}

	err = bob.EditMessage(ctx, first.ID, "mine now")
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != "forbidden" {
		t.Fatalf("edit by non-author: %v", err)
	}

	_, err = alice.SendMessage(ctx, conv.ID, chat.Draft{ClientMsgID: "cmsg-2", Type: chat.MessageText, Content: strings.Repeat("x", 4001)})
	if !errors.Is(err, chat.ErrInvalidInput) {
		t.Fatalf("oversized send: want ErrInvalidInput, got %v", err)
	}
}

func TestClient_PageSizes(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := mustDial(t, srv, "alice", WithPageSizes(2, 1))
	convA := mustStart(t, alice, "bob")
	mustStart(t, alice, "carol")

	for i := 0; i < 3; i++ {
		if _, err := alice.SendMessage(ctx, convA.ID, chat.Draft{ClientMsgID: fmt.Sprint("c", i), Type: chat.MessageText, Content: "m"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	msgs, err := alice.FetchMessages(ctx, chat.MessagePageRequest{ConversationID: convA.ID, Page: 1})
	if err != nil {
		t.Fatalf("fetch messages: %v", err)
	}
	if len(msgs.Items) != 2 || !msgs.HasOlder {
		t.Fatalf("messages page: %d older=%v", len(msgs.Items), msgs.HasOlder)
	}

	convs, err := alice.FetchConversations(ctx, 1)
	if err != nil {
		t.Fatalf("fetch conversations: %v", err)
	}
	if len(convs.Items) != 1 || !convs.HasNext || convs.Items[0].ID != convA.ID {
		t.Fatalf("conversations page: %+v", convs)
	}
}

func TestClient_ClosedRequestsFail(t *testing.T) {
	srv := newTestServer(t)

	c := mustDial(t, srv, "alice")
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	_, err := c.FetchConversations(context.Background(), 1)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done not closed")
	}
}

func TestDial_RejectsEmptyUser(t *testing.T) {
	t.Parallel()

	if _, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", " "); err == nil {
		t.Fatalf("expected error")
	}
}

// The engine driven through the real channel: 80 messages arrive as 60 + 20
// in ascending order, and a send lands at the end of the window.
func TestEngine_EndToEnd(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := mustDial(t, srv, "alice")
	bob := mustDial(t, srv, "bob")
	conv := mustStart(t, alice, "bob")
	for i := 0; i < 80; i++ {
		if _, err := alice.SendMessage(ctx, conv.ID, chat.Draft{
			ClientMsgID: fmt.Sprintf("seed-%02d", i),
			Type:        chat.MessageText,
			Content:     fmt.Sprintf("m%02d", i),
		}); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	list := chat.NewConversationFeed(bob, chat.WithLogger(quietLogger))
	if err := list.LoadNext(ctx); err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if items := list.Items(); len(items) != 1 || items[0].UnreadCount != 80 {
		t.Fatalf("conversation list: %+v", items)
	}

	feed := chat.NewMessageFeed(bob, chat.WithLogger(quietLogger))
	if err := feed.LoadInitial(ctx, conv.ID); err != nil {
		t.Fatalf("load initial: %v", err)
	}
	if n := len(feed.Items()); n != 60 || !feed.HasMoreBackward() {
		t.Fatalf("initial window: %d more=%v", n, feed.HasMoreBackward())
	}
	if err := feed.LoadOlder(ctx); err != nil {
		t.Fatalf("load older: %v", err)
	}
	items := feed.Items()
	if len(items) != 80 || feed.HasMoreBackward() {
		t.Fatalf("after older: %d more=%v", len(items), feed.HasMoreBackward())
	}
	for i, m := range items {
		if want := fmt.Sprintf("m%02d", i); *m.Content != want {
			t.Fatalf("position %d: %q, want %q", i, *m.Content, want)
		}
	}
	if err := feed.LoadOlder(ctx); !errors.Is(err, chat.ErrNoMorePages) {
		t.Fatalf("past the start: want ErrNoMorePages, got %v", err)
	}

	rec := chat.NewReconciler(bob, feed, "bob", chat.WithConversationFeed(list), chat.WithLogger(quietLogger))
	sent, err := rec.Send(ctx, conv.ID, chat.Draft{Content: "got them all"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	items = feed.Items()
	if len(items) != 81 || items[80].ID != sent.ID {
		t.Fatalf("sent message not last: %d", len(items))
	}
	if p := list.Items()[0].LastMessagePreview; p == nil || *p != "got them all" {
		t.Fatalf("list preview: %v", p)
	}

	if err := rec.React(ctx, items[0].ID, "like"); err != nil {
		t.Fatalf("react: %v", err)
	}
	if m, _ := feed.Get(items[0].ID); !m.HasReaction("bob", "like") {
		t.Fatalf("reaction not applied: %+v", m.Reactions)
	}
}

type memFile struct {
	name string
	data []byte
}

func (f memFile) Name() string                 { return f.name }
func (f memFile) Size() int64                  { return int64(len(f.data)) }
func (f memFile) Open() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(f.data)), nil }

var pngHead = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")

func TestHTTPUploader_UploadSessionCommit(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	alice := mustDial(t, srv, "alice")
	conv := mustStart(t, alice, "bob")

	up, err := NewHTTPUploader(srv.httpURL, nil)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	feed := chat.NewMessageFeed(alice, chat.WithLogger(quietLogger))
	if err := feed.LoadInitial(ctx, conv.ID); err != nil {
		t.Fatalf("load initial: %v", err)
	}
	rec := chat.NewReconciler(alice, feed, "alice", chat.WithLogger(quietLogger))

	var states []chat.UploadState
	session := chat.NewUploadSession(up, rec, chat.OnUploadState(func(s chat.UploadState) { states = append(states, s) }), chat.WithLogger(quietLogger))

	if err := session.Select(memFile{name: "dot.png", data: pngHead}); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := session.SetCaption("a dot"); err != nil {
		t.Fatalf("caption: %v", err)
	}
	msg, err := session.Commit(ctx, conv.ID, "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if msg.Type != chat.MessageImage || msg.Attachment == nil || *msg.Content != "a dot" {
		t.Fatalf("message: %+v", msg)
	}
	a := msg.Attachment
	if !strings.HasPrefix(a.URL, srv.httpURL+realtime.FilesPrefix) || a.MimeType != "image/png" || a.Size != int64(len(pngHead)) || a.Filename != "dot.png" {
		t.Fatalf("attachment: %+v", a)
	}
	if session.State() != chat.UploadIdle || len(feed.Items()) != 1 {
		t.Fatalf("after commit: state=%v feed=%d", session.State(), len(feed.Items()))
	}
	if fmt.Sprint(states) != fmt.Sprint([]chat.UploadState{chat.UploadSelected, chat.UploadUploading, chat.UploadCommitted, chat.UploadIdle}) {
		t.Fatalf("states: %v", states)
	}

	resp, err := http.Get(a.URL)
	if err != nil {
		t.Fatalf("get attachment: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, pngHead) {
		t.Fatalf("attachment body differs")
	}
}

func TestHTTPUploader_ProgressAndServerLimit(t *testing.T) {
	srv := newTestServer(t, realtime.WithUploadMaxBytes(16))

	up, err := NewHTTPUploader(srv.httpURL, nil)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}

	var last atomic.Int64
	_, err = up.Upload(context.Background(), memFile{name: "small.txt", data: []byte("hello")}, func(sent, total int64) {
		if total != 5 {
			t.Errorf("total: %d", total)
		}
		last.Store(sent)
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if last.Load() != 5 {
		t.Fatalf("progress ended at %d", last.Load())
	}

	_, err = up.Upload(context.Background(), memFile{name: "big.bin", data: make([]byte, 32)}, nil)
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != "attachment_too_large" {
		t.Fatalf("want attachment_too_large, got %v", err)
	}

	if _, err := NewHTTPUploader("ftp://example.com", nil); err == nil {
		t.Fatalf("expected scheme error")
	}
}
