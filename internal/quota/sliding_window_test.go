package quota

import (
	"testing"
	"time"
)

func TestSlidingWindow_AllowWithinLimit(t *testing.T) {
	w := NewSlidingWindow(3, time.Hour)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !w.AllowAt("global", base) {
			t.Errorf("event %d should be allowed", i)
		}
	}
	if w.AllowAt("global", base) {
		t.Error("4th event within the window should be denied")
	}
}

func TestSlidingWindow_ExpiresOutOfWindow(t *testing.T) {
	w := NewSlidingWindow(1, time.Hour)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !w.AllowAt("u1", base) {
		t.Fatal("first event should be allowed")
	}
	if w.AllowAt("u1", base.Add(30*time.Minute)) {
		t.Error("second event inside the window should be denied")
	}
	if !w.AllowAt("u1", base.Add(61*time.Minute)) {
		t.Error("event after the window rolls should be allowed")
	}
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	w := NewSlidingWindow(1, time.Hour)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if !w.AllowAt("alice", base) {
		t.Fatal("alice's first event should be allowed")
	}
	if !w.AllowAt("bob", base) {
		t.Error("bob's quota is independent of alice's")
	}
}

func TestSlidingWindow_RemainingAt(t *testing.T) {
	w := NewSlidingWindow(3, time.Hour)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := w.RemainingAt("k", base); got != 3 {
		t.Fatalf("expected 3 remaining, got %d", got)
	}
	w.AllowAt("k", base)
	if got := w.RemainingAt("k", base); got != 2 {
		t.Fatalf("expected 2 remaining, got %d", got)
	}
}

func TestSlidingWindow_Reset(t *testing.T) {
	w := NewSlidingWindow(1, time.Hour)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	w.AllowAt("k", base)
	if w.AllowAt("k", base) {
		t.Fatal("should be exhausted")
	}
	w.Reset("k")
	if !w.AllowAt("k", base) {
		t.Error("should be allowed again after reset")
	}
}
