package api

import (
	"sync"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	var mu sync.Mutex
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	for i := range 2 {
		if !rl.Allow("anon_a") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("anon_a") {
		t.Error("third request inside the window should be denied")
	}
	if !rl.Allow("anon_b") {
		t.Error("keys should be limited independently")
	}

	mu.Lock()
	now = now.Add(61 * time.Second)
	mu.Unlock()
	if !rl.Allow("anon_a") {
		t.Error("request after the window should be allowed")
	}
}

func TestRateLimiterEvict(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	rl.Allow("anon_a")

	rl.mu.Lock()
	rl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	rl.mu.Unlock()
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.requests) != 0 {
		t.Errorf("Expected no tracked keys after eviction, got %d", len(rl.requests))
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Millisecond)
	rl.Stop()
	rl.Stop()
}
