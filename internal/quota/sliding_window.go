// Package quota implements rolling-window request quotas, distinct from
// internal/ratelimit's token buckets: a quota counts *distinct events* over
// a trailing duration (3 images per rolling hour, 3 deep-mode runs per
// rolling 24h) rather than smoothing a steady request rate.
package quota

import (
	"sync"
	"time"
)

// SlidingWindow tracks timestamped events per key and reports whether a new
// event is allowed under a fixed limit within a trailing window.
type SlidingWindow struct {
	mu      sync.Mutex
	events  map[string][]time.Time
	limit   int
	window  time.Duration
	maxKeys int
}

// NewSlidingWindow creates a quota allowing at most limit events per key
// within window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		events:  make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		maxKeys: 10000,
	}
}

// Allow reports whether key has room for one more event right now, and if
// so records it. It does not record an event when the quota is exhausted.
func (w *SlidingWindow) Allow(key string) bool {
	return w.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit "now", for deterministic tests.
func (w *SlidingWindow) AllowAt(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.events) >= w.maxKeys {
		w.prune(now)
	}

	kept := pruneBefore(w.events[key], now.Add(-w.window))
	if len(kept) >= w.limit {
		w.events[key] = kept
		return false
	}
	w.events[key] = append(kept, now)
	return true
}

// Remaining reports how many more events key may record right now.
func (w *SlidingWindow) Remaining(key string) int {
	return w.RemainingAt(key, time.Now())
}

// RemainingAt is Remaining with an explicit "now".
func (w *SlidingWindow) RemainingAt(key string, now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := pruneBefore(w.events[key], now.Add(-w.window))
	w.events[key] = kept
	remaining := w.limit - len(kept)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// ResetAt reports when the oldest event in the current window will fall out
// of it, i.e. when the next slot frees up. Returns the zero Time if the key
// is not currently at its limit.
func (w *SlidingWindow) ResetAt(key string) time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	kept := pruneBefore(w.events[key], now.Add(-w.window))
	w.events[key] = kept
	if len(kept) < w.limit {
		return time.Time{}
	}
	return kept[0].Add(w.window)
}

// Reset clears all recorded events for key.
func (w *SlidingWindow) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.events, key)
}

// prune drops keys whose entire event list has aged out, bounding memory
// use for a long-lived process (mirrors ratelimit.Limiter's bucket prune).
func (w *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	for key, ts := range w.events {
		kept := pruneBefore(ts, cutoff)
		if len(kept) == 0 {
			delete(w.events, key)
		} else {
			w.events[key] = kept
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
