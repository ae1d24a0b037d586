// Package main is a CI-friendly end-to-end smoke test for a running hrchat server.
//
// It drives the client engine over the real channel and checks:
//   - handshake, subprotocol and hello session establishment
//   - direct conversation start (and reuse)
//   - concurrent seeding, then newest-first paging assembled oldest-to-newest
//   - idempotent send by client_msg_id
//   - send/edit/react reconciliation into the open feed
//   - attachment upload committed as a message
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"hrchat/cmd/internal/chat"
	"hrchat/cmd/internal/chatclient"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		httpURL = flag.String("http", "", "HTTP base URL for uploads (default: derived from -url)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		seed    = flag.Int("seed", 70, "Messages to seed before paging")
		text    = flag.String("text", "hello hrchat 👋", "Message text to send")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *httpURL == "" {
		*httpURL = deriveHTTPBase(*wsURL)
	}
	if *seed < 1 {
		fatalf("-seed must be positive")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	run := uuid.NewString()[:8]
	userA, userB := "smoke-a-"+run, "smoke-b-"+run

	a := mustDial(ctx, *wsURL, userA, *origin, log)
	defer func() { _ = a.Close() }()
	b := mustDial(ctx, *wsURL, userB, *origin, log)
	defer func() { _ = b.Close() }()
	verbosef(*verbose, "connected: A=%s B=%s origin=%q", a.SessionID(), b.SessionID(), *origin)

	conv, err := a.StartConversation(ctx, chat.StartConversationInput{ParticipantIDs: []string{userB}})
	must(err, "start conversation")
	again, err := b.StartConversation(ctx, chat.StartConversationInput{ParticipantIDs: []string{userA}})
	must(err, "start conversation (reverse)")
	if again.ID != conv.ID {
		fatalf("direct conversation not reused: %s vs %s", conv.ID, again.ID)
	}

	mustSeed(ctx, a, conv.ID, *seed)
	verbosef(*verbose, "seeded %d messages into %s", *seed, conv.ID)

	first, err := a.SendMessage(ctx, conv.ID, chat.Draft{ClientMsgID: "dedupe-" + run, Type: chat.MessageText, Content: *text})
	must(err, "send")
	dup, err := a.SendMessage(ctx, conv.ID, chat.Draft{ClientMsgID: "dedupe-" + run, Type: chat.MessageText, Content: *text})
	must(err, "resend")
	if dup.ID != first.ID {
		fatalf("dedupe: got %s and %s for one client_msg_id", first.ID, dup.ID)
	}

	list := chat.NewConversationFeed(b, chat.WithLogger(log))
	must(list.LoadNext(ctx), "conversation list")
	if items := list.Items(); len(items) == 0 || items[0].ID != conv.ID {
		fatalf("conversation list: %s not at the head", conv.ID)
	}

	feed := chat.NewMessageFeed(b, chat.WithLogger(log))
	must(feed.LoadInitial(ctx, conv.ID), "load initial")
	pages := 1
	for feed.HasMoreBackward() {
		must(feed.LoadOlder(ctx), "load older")
		pages++
	}
	items := feed.Items()
	if len(items) != *seed+1 {
		fatalf("history: %d messages, want %d", len(items), *seed+1)
	}
	mustAscending(items)
	if items[len(items)-1].ID != first.ID {
		fatalf("history: newest is %s, want %s", items[len(items)-1].ID, first.ID)
	}
	verbosef(*verbose, "history: %d messages in %d pages", len(items), pages)

	rec := chat.NewReconciler(b, feed, userB, chat.WithConversationFeed(list), chat.WithLogger(log))
	reply, err := rec.Send(ctx, conv.ID, chat.Draft{Content: "ack from B", RepliedToID: first.ID})
	must(err, "reply")
	must(rec.Edit(ctx, reply.ID, "ack from B (edited)"), "edit")
	must(rec.React(ctx, first.ID, "like"), "react")

	if m, _ := feed.Get(reply.ID); m.Content == nil || *m.Content != "ack from B (edited)" || !m.IsEdited {
		fatalf("edit not reconciled: %+v", m)
	}
	if m, _ := feed.Get(first.ID); !m.HasReaction(userB, "like") {
		fatalf("reaction not reconciled")
	}
	if err := a.EditMessage(ctx, reply.ID, "not mine"); err == nil {
		fatalf("edit of another user's message was accepted")
	}

	up, err := chatclient.NewHTTPUploader(*httpURL, nil)
	must(err, "uploader")
	session := chat.NewUploadSession(up, rec, chat.WithLogger(log))
	must(session.Select(memFile{name: "smoke-" + run + ".txt", data: []byte("smoke " + run + "\n")}), "select file")
	must(session.SetCaption("smoke attachment"), "caption")
	att, err := session.Commit(ctx, conv.ID, "")
	must(err, "upload commit")
	if att.Attachment == nil || att.Type != chat.MessageFile {
		fatalf("upload: unexpected message %+v", att)
	}

	fmt.Printf("OK: A=%s B=%s conv_id=%s messages=%d pages=%d attachment=%s\n",
		a.SessionID(), b.SessionID(), conv.ID, len(feed.Items()), pages, att.Attachment.URL)
}

func mustDial(ctx context.Context, wsURL, userID, origin string, log *slog.Logger) *chatclient.Client {
	c, err := chatclient.Dial(ctx, wsURL, userID, chatclient.WithOrigin(origin), chatclient.WithLogger(log))
	must(err, "connect "+userID)
	return c
}

// mustSeed sends n messages with bounded concurrency. Arrival order decides
// the server order, so only the count and the ascending order are checked later.
func mustSeed(ctx context.Context, c *chatclient.Client, conversationID string, n int) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := c.SendMessage(gctx, conversationID, chat.Draft{
				ClientMsgID: uuid.NewString(),
				Type:        chat.MessageText,
				Content:     fmt.Sprintf("seed %03d", i),
			})
			return err
		})
	}
	must(g.Wait(), "seed")
}

func mustAscending(items []chat.Message) {
	seen := make(map[string]struct{}, len(items))
	for i, m := range items {
		if _, dup := seen[m.ID]; dup {
			fatalf("history: duplicate message %s", m.ID)
		}
		seen[m.ID] = struct{}{}
		if i > 0 && !items[i-1].Timestamp.Before(m.Timestamp) {
			fatalf("history: %s (%s) not after %s (%s)", m.ID, m.Timestamp, items[i-1].ID, items[i-1].Timestamp)
		}
	}
}

type memFile struct {
	name string
	data []byte
}

func (f memFile) Name() string                 { return f.name }
func (f memFile) Size() int64                  { return int64(len(f.data)) }
func (f memFile) Open() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(f.data)), nil }

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func deriveHTTPBase(wsURL string) string {
	u, _ := url.Parse(wsURL)
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func must(err error, step string) {
	if err != nil {
		fatalf("%s: %v", step, err)
	}
}

func verbosef(on bool, format string, args ...any) {
	if on {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
