package chat

import "sync"

// Viewport abstracts the scrollable surface rendering a message window.
type Viewport interface {
	// ContentHeight is the total rendered height of the list.
	ContentHeight() float64
	// ScrollOffset is the distance from the top of the content to the top of the viewport.
	ScrollOffset() float64
	// ScrollTo sets the scroll offset.
	ScrollTo(offset float64)
	// AfterLayout runs fn once the pending data update has been laid out.
	AfterLayout(fn func())
}

// AnchorSnapshot is captured immediately before a prepend and consumed once.
type AnchorSnapshot struct {
	ContentHeight float64
	ItemCount     int

	epoch uint64
	valid bool
}

// AdjustedOffset keeps the previously top-most visible item in place after
// content of height heightAfter-heightBefore was inserted above it.
func AdjustedOffset(offset, heightBefore, heightAfter float64) float64 {
	return offset + (heightAfter - heightBefore)
}

// ScrollAnchor applies AdjustedOffset around MessageFeed prepends.
// The correction depends only on the height delta, so it is correct even if
// the user scrolled while the older page was being fetched.
type ScrollAnchor struct {
	vp Viewport

	mu    sync.Mutex
	epoch uint64
}

// NewScrollAnchor binds an anchor to vp.
func NewScrollAnchor(vp Viewport) *ScrollAnchor {
	return &ScrollAnchor{vp: vp}
}

// Capture records the content height before a prepend is applied.
func (a *ScrollAnchor) Capture(itemCount int) AnchorSnapshot {
	if a == nil || a.vp == nil {
		return AnchorSnapshot{ItemCount: itemCount}
	}

	a.mu.Lock()
	epoch := a.epoch
	a.mu.Unlock()

	return AnchorSnapshot{
		ContentHeight: a.vp.ContentHeight(),
		ItemCount:     itemCount,
		epoch:         epoch,
		valid:         true,
	}
}

// Apply schedules the offset correction for after layout has settled.
// Snapshots taken before the last Discard are ignored.
func (a *ScrollAnchor) Apply(s AnchorSnapshot) {
	if a == nil || a.vp == nil || !s.valid {
		return
	}

	a.vp.AfterLayout(func() {
		// Single use: a consumed snapshot bumps the epoch like Discard.
		a.mu.Lock()
		current := a.epoch == s.epoch
		if current {
			a.epoch++
		}
		a.mu.Unlock()
		if !current {
			return
		}

		h1 := a.vp.ContentHeight()
		a.vp.ScrollTo(AdjustedOffset(a.vp.ScrollOffset(), s.ContentHeight, h1))
	})
}

// Discard drops every captured or scheduled correction.
func (a *ScrollAnchor) Discard() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.epoch++
	a.mu.Unlock()
}
