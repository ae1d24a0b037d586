package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// gatedConversations blocks FetchConversations until release is closed.
type gatedConversations struct {
	*fakeChannel
	entered chan int
	release chan struct{}
}

func (g *gatedConversations) FetchConversations(ctx context.Context, page int) (ConversationPage, error) {
	g.entered <- page
	<-g.release
	return g.fakeChannel.FetchConversations(ctx, page)
}

func TestConversationFeed_PagesMergeWithoutDuplicates(t *testing.T) {
	t.Parallel()

	newest := t0.Add(10 * time.Hour)
	ch := newFakeChannel()
	page1 := convs("conv", 0, 20, newest)
	// Server race: conv-07 moved between the two requests and shows up again.
	dup := Conversation{ID: "conv-07", LastMessageAt: newest.Add(time.Minute), LastMessagePreview: strPtr("moved")}
	page2 := append([]Conversation{dup}, convs("conv", 20, 14, newest)...)
	ch.convPages[1] = ConversationPage{Items: page1, HasNext: true}
	ch.convPages[2] = ConversationPage{Items: page2, HasNext: false}

	changes := 0
	f := NewConversationFeed(ch, WithLogger(quietLogger()), OnChange(func() { changes++ }))
	ctx := context.Background()

	if !f.HasMoreForward() {
		t.Fatalf("empty feed must allow the first load")
	}
	if err := f.LoadNext(ctx); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if err := f.SentinelVisible(ctx); err != nil {
		t.Fatalf("page 2: %v", err)
	}

	got := f.Items()
	if len(got) != 34 {
		t.Fatalf("len=%d want 34", len(got))
	}
	for i := 0; i < 34; i++ {
		if want := fmt.Sprintf("conv-%02d", i); got[i].ID != want {
			t.Fatalf("item %d=%s want %s", i, got[i].ID, want)
		}
	}
	if p := got[7].LastMessagePreview; p == nil || *p != "moved" {
		t.Fatalf("fresher duplicate was not applied in place")
	}
	if f.HasMoreForward() {
		t.Fatalf("expected HasMoreForward=false")
	}
	if changes != 2 {
		t.Fatalf("changes=%d want 2", changes)
	}

	if err := f.LoadNext(ctx); !errors.Is(err, ErrNoMorePages) {
		t.Fatalf("expected ErrNoMorePages, got %v", err)
	}
	if err := f.SentinelVisible(ctx); err != nil {
		t.Fatalf("sentinel after exhaustion: %v", err)
	}
	if fmt.Sprint(ch.convCalls) != "[1 2]" {
		t.Fatalf("calls=%v", ch.convCalls)
	}
}

func TestConversationFeed_GuardWhileFetching(t *testing.T) {
	t.Parallel()

	base := newFakeChannel()
	base.convPages[1] = ConversationPage{Items: convs("conv", 0, 3, t0), HasNext: true}
	g := &gatedConversations{fakeChannel: base, entered: make(chan int, 4), release: make(chan struct{})}
	f := NewConversationFeed(g, WithLogger(quietLogger()))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.LoadNext(ctx) }()
	<-g.entered

	if !f.IsFetching() {
		t.Fatalf("expected IsFetching=true")
	}
	if err := f.LoadNext(ctx); !errors.Is(err, ErrFetchInFlight) {
		t.Fatalf("expected ErrFetchInFlight, got %v", err)
	}
	if err := f.SentinelVisible(ctx); err != nil {
		t.Fatalf("sentinel while fetching: %v", err)
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(g.entered) != 0 {
		t.Fatalf("a second request was issued")
	}
	if len(f.Items()) != 3 || f.IsFetching() {
		t.Fatalf("len=%d fetching=%v", len(f.Items()), f.IsFetching())
	}
}

func TestConversationFeed_ErrorKeepsContentAndAllowsRetry(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.convPages[1] = ConversationPage{Items: convs("conv", 0, 2, t0), HasNext: true}
	ch.convPages[2] = ConversationPage{Items: convs("conv", 2, 2, t0)}
	f := NewConversationFeed(ch, WithLogger(quietLogger()))
	ctx := context.Background()

	if err := f.LoadNext(ctx); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	ch.fetchErr = errBoom

	err := f.LoadNext(ctx)
	var oe *OpError
	if !errors.As(err, &oe) || oe.Op != OpFetchConversations || oe.Target != "2" {
		t.Fatalf("expected OpError for page 2, got %v", err)
	}
	if f.IsFetching() || len(f.Items()) != 2 {
		t.Fatalf("fetching=%v len=%d", f.IsFetching(), len(f.Items()))
	}

	ch.fetchErr = nil
	if err := f.LoadNext(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.Items()) != 4 {
		t.Fatalf("len=%d want 4", len(f.Items()))
	}
}

func TestConversationFeed_ResetDiscardsInFlightPage(t *testing.T) {
	t.Parallel()

	base := newFakeChannel()
	base.convPages[1] = ConversationPage{Items: convs("conv", 0, 3, t0)}
	g := &gatedConversations{fakeChannel: base, entered: make(chan int, 4), release: make(chan struct{})}
	f := NewConversationFeed(g, WithLogger(quietLogger()))

	done := make(chan error, 1)
	go func() { done <- f.LoadNext(context.Background()) }()
	<-g.entered

	f.Reset()
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("stale page must not surface an error, got %v", err)
	}
	if n := len(f.Items()); n != 0 {
		t.Fatalf("stale page applied: len=%d", n)
	}
}

func TestConversationFeed_StartAndTouch(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.convPages[1] = ConversationPage{Items: convs("conv", 0, 3, t0)}
	f := NewConversationFeed(ch, WithLogger(quietLogger()))
	ctx := context.Background()

	if err := f.LoadNext(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := f.Start(ctx, StartConversationInput{ParticipantIDs: []string{" ", ""}}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	conv, err := f.Start(ctx, StartConversationInput{ParticipantIDs: []string{"u-2", " u-2 ", "u-3"}, Name: "  Payroll  "})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(conv.Participants) != 2 || conv.Name != "Payroll" || !conv.IsGroup {
		t.Fatalf("conversation=%+v", conv)
	}
	if got := f.Items(); len(got) != 4 || got[0].ID != conv.ID {
		t.Fatalf("started conversation not at head: %v", ids(got))
	}

	at := t0.Add(30 * 24 * time.Hour)
	if !f.Touch("conv-02", "hi", at) {
		t.Fatalf("touch of loaded conversation failed")
	}
	got := f.Items()
	if got[0].ID != "conv-02" || got[0].LastMessagePreview == nil || *got[0].LastMessagePreview != "hi" {
		t.Fatalf("touched conversation not promoted: %+v", got[0])
	}
	if len(got) != 4 {
		t.Fatalf("touch changed length: %d", len(got))
	}
	if f.Touch("missing", "x", at) {
		t.Fatalf("touch of unloaded conversation succeeded")
	}
	if f.Touch("conv-02", "older", at.Add(-time.Hour)) {
		t.Fatalf("touch with an older timestamp succeeded")
	}
}

func TestConversation_DisplayName(t *testing.T) {
	t.Parallel()

	parts := []UserSummary{{ID: "me", Name: "Me"}, {ID: "u2", Name: "Sam"}, {ID: "u3"}}
	cases := []struct {
		name string
		conv Conversation
		want string
	}{
		{name: "explicit", conv: Conversation{ID: "c", Name: " Team ", Participants: parts}, want: "Team"},
		{name: "others", conv: Conversation{ID: "c", Participants: parts}, want: "Sam, u3"},
		{name: "self only", conv: Conversation{ID: "c", Participants: parts[:1]}, want: "c"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.conv.DisplayName("me"); got != tc.want {
				t.Fatalf("DisplayName=%q want %q", got, tc.want)
			}
		})
	}
}
