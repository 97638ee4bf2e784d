package handlers

import (
	"testing"
	"time"
)

func TestFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	limiter := newFixedWindowLimiter(2, time.Minute, clock)
	if limiter == nil {
		t.Fatal("expected a limiter")
	}

	for i := 0; i < 2; i++ {
		if !limiter.Allow("checkout:t-1") {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	if limiter.Allow("checkout:t-1") {
		t.Fatal("third hit in the window should be rejected")
	}
	if !limiter.Allow("checkout:t-2") {
		t.Fatal("other keys should not share the counter")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("checkout:t-1") {
		t.Fatal("expected the counter to reset after the window")
	}
}

func TestFixedWindowLimiterDisabledForInvalidConfig(t *testing.T) {
	if limiter := newFixedWindowLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("zero limit should disable the limiter")
	}
	if limiter := newFixedWindowLimiter(5, 0, nil); limiter != nil {
		t.Fatal("zero window should disable the limiter")
	}
}
