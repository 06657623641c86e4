package server

import (
	"testing"
	"time"
)

// TestRateLimiter verifies the burst allowance and the refill over time.
func TestRateLimiter(t *testing.T) {
	t.Run("Burst then block", func(t *testing.T) {
		rl := newRateLimiter(3, time.Hour)
		for i := 0; i < 3; i++ {
			if !rl.allow() {
				t.Fatalf("Expected frame %d to be allowed", i+1)
			}
		}
		if rl.allow() {
			t.Error("Expected frame beyond burst to be blocked")
		}
	})

	t.Run("Refill", func(t *testing.T) {
		rl := newRateLimiter(1, 20*time.Millisecond)
		if !rl.allow() {
			t.Fatal("Expected first frame to be allowed")
		}
		if rl.allow() {
			t.Fatal("Expected second frame to be blocked")
		}
		time.Sleep(40 * time.Millisecond)
		if !rl.allow() {
			t.Error("Expected a token after the refill interval")
		}
	})

	t.Run("Invalid parameters", func(t *testing.T) {
		rl := newRateLimiter(0, 0)
		if !rl.allow() {
			t.Error("Expected limiter with defaults to allow one frame")
		}
	})
}
