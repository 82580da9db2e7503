package tool

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	r := NewRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !r.Allow() {
			t.Fatalf("call %d denied, want allowed", i)
		}
	}
	if r.Allow() {
		t.Fatal("call over limit allowed")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	now := time.Unix(1000, 0)
	r := NewRateLimiter(2, time.Minute)
	r.now = func() time.Time { return now }

	if !r.Allow() || !r.Allow() {
		t.Fatal("initial calls denied")
	}
	if r.Allow() {
		t.Fatal("third call within window allowed")
	}

	now = now.Add(61 * time.Second)
	if !r.Allow() {
		t.Fatal("call after window expiry denied")
	}
}
