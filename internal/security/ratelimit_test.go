package security

import (
	"testing"
	"time"
)

func TestRateLimiterBurstLimit(t *testing.T) {
	rl := NewRateLimiter()
	clock := time.Now()
	rl.now = func() time.Time { return clock }

	const burst = 10
	for i := 0; i < burst; i++ {
		if err := rl.Allow("client-a", 1000, burst, time.Minute); err != nil {
			t.Fatalf("request %d unexpectedly blocked: %v", i+1, err)
		}
	}
	if err := rl.Allow("client-a", 1000, burst, time.Minute); err == nil {
		t.Error("11th request within the burst window was allowed, want rate limited")
	}
}

func TestRateLimiterHourlyQuota(t *testing.T) {
	rl := NewRateLimiter()
	clock := time.Now()
	rl.now = func() time.Time { return clock }

	const hourly = 100
	for i := 0; i < hourly; i++ {
		// Space requests a second apart: all 101 stay well inside the
		// trailing-hour window, and the high burst quota keeps the
		// per-minute limiter from ever tripping first.
		clock = clock.Add(time.Second)
		if err := rl.Allow("client-b", hourly, 1000, time.Hour); err != nil {
			t.Fatalf("request %d unexpectedly blocked: %v", i+1, err)
		}
	}
	clock = clock.Add(time.Second)
	if err := rl.Allow("client-b", hourly, 1000, time.Hour); err == nil {
		t.Error("101st request within the hour was allowed, want rate limited")
	}
}

func TestRateLimiterHourlyQuotaSlidesAsOldRequestsAge(t *testing.T) {
	rl := NewRateLimiter()
	clock := time.Now()
	rl.now = func() time.Time { return clock }

	const hourly = 5
	for i := 0; i < hourly; i++ {
		if err := rl.Allow("client-d", hourly, 1000, time.Minute); err != nil {
			t.Fatalf("request %d unexpectedly blocked: %v", i+1, err)
		}
	}
	if err := rl.Allow("client-d", hourly, 1000, time.Minute); err == nil {
		t.Fatal("6th request within the window was allowed, want rate limited")
	}

	// A tumbling window would still be blocked here (it only resets on a
	// fixed hour boundary); a true sliding window frees up quota as the
	// oldest requests age out of the trailing hour.
	clock = clock.Add(61 * time.Minute)
	if err := rl.Allow("client-d", hourly, 1000, time.Minute); err != nil {
		t.Errorf("request an hour after the original burst was blocked: %v", err)
	}
}

func TestRateLimiterStaysBlockedUntilDeadline(t *testing.T) {
	rl := NewRateLimiter()
	clock := time.Now()
	rl.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		_ = rl.Allow("client-c", 1, 1000, time.Minute)
	}
	if err := rl.Allow("client-c", 1, 1000, time.Minute); err == nil {
		t.Fatal("expected block after exceeding hourly quota of 1")
	}

	clock = clock.Add(30 * time.Second)
	if err := rl.Allow("client-c", 1, 1000, time.Minute); err == nil {
		t.Error("request before block_until elapsed was allowed")
	}

	clock = clock.Add(31 * time.Second)
	if err := rl.Allow("client-c", 1, 1000, time.Minute); err != nil {
		t.Errorf("request after block_until elapsed was blocked: %v", err)
	}
}
