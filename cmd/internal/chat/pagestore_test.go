package chat

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

type item struct {
	id  string
	rev int
}

func (i item) Key() string { return i.id }

func items(idList ...string) []item {
	out := make([]item, len(idList))
	for i, id := range idList {
		out[i] = item{id: id}
	}
	return out
}

func mustBegin[T Keyed](t *testing.T, s *PageStore[T], key string) Ticket {
	t.Helper()
	tk, _, err := s.Begin(key)
	if err != nil {
		t.Fatalf("begin %s: %v", key, err)
	}
	return tk
}

func TestPageStore_FirstPageReplaces(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	if _, err := s.Merge(mustBegin(t, s, "k"), 1, items("a", "b", "c"), Append, CursorInfo{HasMoreForward: true}); err != nil {
		t.Fatalf("merge 1: %v", err)
	}
	out, err := s.Merge(mustBegin(t, s, "k"), 1, items("x", "a"), Append, CursorInfo{})
	if err != nil {
		t.Fatalf("merge 1 again: %v", err)
	}

	if got := fmt.Sprint(ids(out.Items)); got != "[x a]" {
		t.Fatalf("items=%s want [x a]", got)
	}
	if out.Added != 2 {
		t.Fatalf("added=%d want 2", out.Added)
	}
	if c := s.Cursor("k"); c.Page != 1 || c.HasMoreForward || c.Fetching {
		t.Fatalf("cursor=%+v", c)
	}
}

func TestPageStore_AppendDeduplicates(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	if _, err := s.Merge(mustBegin(t, s, "k"), 1, items("a", "b", "c"), Append, CursorInfo{HasMoreForward: true}); err != nil {
		t.Fatalf("merge 1: %v", err)
	}
	out, err := s.Merge(mustBegin(t, s, "k"), 2, items("c", "d", "d", "e"), Append, CursorInfo{})
	if err != nil {
		t.Fatalf("merge 2: %v", err)
	}

	if got := fmt.Sprint(ids(out.Items)); got != "[a b c d e]" {
		t.Fatalf("items=%s", got)
	}
	if out.Added != 2 {
		t.Fatalf("added=%d want 2", out.Added)
	}
}

func TestPageStore_PrependKeepsOrder(t *testing.T) {
	t.Parallel()

	s := NewPageStore(OrderBy(messageLess))
	mk := func(i int) Message {
		return Message{ID: fmt.Sprintf("m%02d", i), Timestamp: t0.Add(time.Duration(i) * time.Second)}
	}

	if _, err := s.Merge(mustBegin(t, s, "c"), 1, []Message{mk(5), mk(6), mk(7)}, Prepend, CursorInfo{HasMoreBackward: true}); err != nil {
		t.Fatalf("merge 1: %v", err)
	}
	// Overlaps the boundary by one.
	out, err := s.Merge(mustBegin(t, s, "c"), 2, []Message{mk(3), mk(4), mk(5)}, Prepend, CursorInfo{})
	if err != nil {
		t.Fatalf("merge 2: %v", err)
	}

	if got := fmt.Sprint(ids(out.Items)); got != "[m03 m04 m05 m06 m07]" {
		t.Fatalf("items=%s", got)
	}
	if out.Added != 2 {
		t.Fatalf("added=%d want 2", out.Added)
	}
	if c := s.Cursor("c"); c.HasMoreBackward {
		t.Fatalf("expected HasMoreBackward=false")
	}
}

func TestPageStore_GuardRejectsSecondBegin(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	tk := mustBegin(t, s, "k")

	if _, _, err := s.Begin("k"); !errors.Is(err, ErrFetchInFlight) {
		t.Fatalf("second begin: expected ErrFetchInFlight, got %v", err)
	}
	// Other keys have their own guard.
	mustBegin(t, s, "other")

	s.Abort(tk)
	if s.Cursor("k").Fetching {
		t.Fatalf("abort did not clear the guard")
	}
	mustBegin(t, s, "k")
}

func TestPageStore_MergeRejectsForeignTicket(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	old := mustBegin(t, s, "k")
	s.Abort(old)
	cur := mustBegin(t, s, "k")

	if _, err := s.Merge(old, 1, items("a"), Append, CursorInfo{}); !errors.Is(err, ErrFetchInFlight) {
		t.Fatalf("merge with released ticket: expected ErrFetchInFlight, got %v", err)
	}
	if _, err := s.Merge(cur, 1, items("a"), Append, CursorInfo{}); err != nil {
		t.Fatalf("merge with holder: %v", err)
	}
}

func TestPageStore_ResetInvalidatesTickets(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	if _, err := s.Merge(mustBegin(t, s, "k"), 1, items("a"), Append, CursorInfo{}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	tk := mustBegin(t, s, "k")

	s.Reset("k")
	if s.Len("k") != 0 || s.Cursor("k") != (PageCursor{}) {
		t.Fatalf("reset left state behind: len=%d cursor=%+v", s.Len("k"), s.Cursor("k"))
	}
	if s.Valid(tk) {
		t.Fatalf("ticket survived reset")
	}
	if _, err := s.Merge(tk, 2, items("b"), Append, CursorInfo{}); !errors.Is(err, ErrStaleTicket) {
		t.Fatalf("expected ErrStaleTicket, got %v", err)
	}
	if s.Len("k") != 0 {
		t.Fatalf("stale merge mutated the store")
	}

	// Abort of a stale ticket must not release a newer holder.
	fresh := mustBegin(t, s, "k")
	s.Abort(tk)
	if !s.Valid(fresh) {
		t.Fatalf("stale abort released the current guard")
	}
}

func TestPageStore_MergeRejectsPageZero(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	tk := mustBegin(t, s, "k")
	if _, err := s.Merge(tk, 0, items("a"), Append, CursorInfo{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if !s.Valid(tk) {
		t.Fatalf("invalid merge released the guard")
	}
}

func TestPageStore_ReplaceWhenFresher(t *testing.T) {
	t.Parallel()

	s := NewPageStore(ReplaceWhen(func(held, in item) bool { return in.rev > held.rev }))
	if _, err := s.Merge(mustBegin(t, s, "k"), 1, []item{{id: "a", rev: 1}, {id: "b", rev: 1}}, Append, CursorInfo{}); err != nil {
		t.Fatalf("merge 1: %v", err)
	}
	out, err := s.Merge(mustBegin(t, s, "k"), 2, []item{{id: "a", rev: 2}, {id: "b", rev: 0}, {id: "c", rev: 1}}, Append, CursorInfo{})
	if err != nil {
		t.Fatalf("merge 2: %v", err)
	}

	want := []item{{id: "a", rev: 2}, {id: "b", rev: 1}, {id: "c", rev: 1}}
	if fmt.Sprint(out.Items) != fmt.Sprint(want) {
		t.Fatalf("items=%v want %v", out.Items, want)
	}
	if out.Added != 1 {
		t.Fatalf("added=%d want 1", out.Added)
	}
}

func TestPageStore_AppendPromoteUpdate(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	if _, err := s.Merge(mustBegin(t, s, "k"), 1, items("a", "b", "c"), Append, CursorInfo{}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if s.Append("k", item{id: "b"}) {
		t.Fatalf("append of held id reported added")
	}
	if !s.Append("k", item{id: "d"}) {
		t.Fatalf("append of new id reported not added")
	}

	s.Promote("k", item{id: "c", rev: 9})
	if got := fmt.Sprint(ids(s.Items("k"))); got != "[c a b d]" {
		t.Fatalf("after promote items=%s", got)
	}

	if !s.Update("k", "a", func(it *item) bool { it.rev = 3; return true }) {
		t.Fatalf("update of held id failed")
	}
	if s.Update("k", "zz", func(*item) bool { return true }) {
		t.Fatalf("update of missing id succeeded")
	}
	if got, _ := s.Get("k", "a"); got.rev != 3 {
		t.Fatalf("rev=%d want 3", got.rev)
	}
}

func TestPageStore_ItemsIsSnapshot(t *testing.T) {
	t.Parallel()

	s := NewPageStore[item]()
	if _, err := s.Merge(mustBegin(t, s, "k"), 1, items("a", "b"), Append, CursorInfo{}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	snap := s.Items("k")
	snap[0].id = "mutated"

	if got, ok := s.Get("k", "a"); !ok || got.id != "a" {
		t.Fatalf("snapshot aliases store state")
	}
}
