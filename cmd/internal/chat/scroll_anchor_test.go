package chat

import (
	"sync"
	"testing"
)

// fakeViewport renders every item at rowHeight and queues AfterLayout
// callbacks until layout() is called. With immediate set the callbacks run
// inline, like a viewport that lays out synchronously.
type fakeViewport struct {
	mu        sync.Mutex
	rowHeight float64
	rows      func() int
	offset    float64
	pending   []func()
	immediate bool
}

func (v *fakeViewport) ContentHeight() float64 {
	return float64(v.rows()) * v.rowHeight
}

func (v *fakeViewport) ScrollOffset() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.offset
}

func (v *fakeViewport) ScrollTo(offset float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.offset = offset
}

func (v *fakeViewport) AfterLayout(fn func()) {
	v.mu.Lock()
	if v.immediate {
		v.mu.Unlock()
		fn()
		return
	}
	defer v.mu.Unlock()
	v.pending = append(v.pending, fn)
}

func (v *fakeViewport) layout() {
	v.mu.Lock()
	fns := v.pending
	v.pending = nil
	v.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func TestAdjustedOffset(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name           string
		offset, h0, h1 float64
		want           float64
	}{
		{name: "at top", offset: 0, h0: 1000, h1: 1600, want: 600},
		{name: "scrolled away", offset: 250, h0: 1000, h1: 1600, want: 850},
		{name: "nothing added", offset: 40, h0: 1000, h1: 1000, want: 40},
		{name: "variable row heights", offset: 10, h0: 333.5, h1: 512.25, want: 188.75},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := AdjustedOffset(tc.offset, tc.h0, tc.h1); got != tc.want {
				t.Fatalf("AdjustedOffset(%v,%v,%v)=%v want %v", tc.offset, tc.h0, tc.h1, got, tc.want)
			}
		})
	}
}

func TestScrollAnchor_AppliesAfterLayout(t *testing.T) {
	t.Parallel()

	rows := 10
	vp := &fakeViewport{rowHeight: 20, rows: func() int { return rows }}
	a := NewScrollAnchor(vp)

	snap := a.Capture(rows)
	if snap.ContentHeight != 200 || snap.ItemCount != 10 {
		t.Fatalf("snapshot=%+v", snap)
	}

	rows = 15
	a.Apply(snap)
	if vp.ScrollOffset() != 0 {
		t.Fatalf("correction ran before layout")
	}

	// The user scrolled a bit while the page was in flight.
	vp.ScrollTo(30)
	vp.layout()
	if got := vp.ScrollOffset(); got != 130 {
		t.Fatalf("offset=%v want 130", got)
	}

	// Snapshots are single use.
	a.Apply(snap)
	vp.layout()
	if got := vp.ScrollOffset(); got != 130 {
		t.Fatalf("snapshot applied twice: offset=%v", got)
	}
}

func TestScrollAnchor_DiscardDropsPending(t *testing.T) {
	t.Parallel()

	rows := 10
	vp := &fakeViewport{rowHeight: 20, rows: func() int { return rows }}
	a := NewScrollAnchor(vp)

	snap := a.Capture(rows)
	rows = 30
	a.Apply(snap)
	a.Discard()
	vp.layout()

	if got := vp.ScrollOffset(); got != 0 {
		t.Fatalf("discarded correction applied: offset=%v", got)
	}
}

func TestScrollAnchor_NilIsNoop(t *testing.T) {
	t.Parallel()

	var a *ScrollAnchor
	snap := a.Capture(3)
	a.Apply(snap)
	a.Discard()
	if snap.ItemCount != 3 {
		t.Fatalf("item count=%d", snap.ItemCount)
	}
}
