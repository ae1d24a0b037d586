package realtime

import (
	"testing"
	"time"
)

func TestRateLimiter_SlidingWindow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(2, time.Second)

	if !rl.Allow(t0) || !rl.Allow(t0.Add(100*time.Millisecond)) {
		t.Fatalf("first two events must pass")
	}
	if rl.Allow(t0.Add(500 * time.Millisecond)) {
		t.Fatalf("third event inside the window must be refused")
	}
	// The first event leaves the window.
	if !rl.Allow(t0.Add(1001 * time.Millisecond)) {
		t.Fatalf("event after the window slid must pass")
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	if len(rl.ring) != rateLimitEvents || rl.window != rateLimitWindow {
		t.Fatalf("defaults: limit=%d window=%v", len(rl.ring), rl.window)
	}
}
