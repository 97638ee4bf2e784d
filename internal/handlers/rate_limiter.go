package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter counts hits per key inside a fixed window. A key's
// counter resets when the first hit of a new window arrives, so a burst at a
// window boundary can briefly see up to 2x the limit. Good enough for
// throttling checkout retries.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*hitWindow
}

type hitWindow struct {
	start time.Time
	hits  int
}

// pruneThreshold bounds map growth from one-off keys between prunes.
const pruneThreshold = 1024

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*hitWindow),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= l.window {
		if len(l.windows) >= pruneThreshold {
			l.dropStale(now)
		}
		l.windows[key] = &hitWindow{start: now, hits: 1}
		return true
	}
	if w.hits >= l.limit {
		return false
	}
	w.hits++
	return true
}

func (l *fixedWindowLimiter) dropStale(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}
