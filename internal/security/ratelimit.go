package security

import (
	"sync"
	"time"

	"github.com/evocrew/evocrew/internal/domainerr"
	"golang.org/x/time/rate"
)

// clientBucket holds one client's sliding hourly window plus a token
// bucket for the per-minute burst limit. Each bucket owns its own mutex
// rather than sharing a single global lock, so clients never contend with
// one another. hourLog holds the timestamp of every request still inside
// the trailing hour, oldest first — a true sliding window, not a
// tumbling one that resets on a fixed clock boundary.
type clientBucket struct {
	mu sync.Mutex

	hourLog  []time.Time
	lastSeen time.Time

	burst *rate.Limiter

	blockUntil time.Time
}

// RateLimiter implements the Security Gate's rate-limit step: an hourly
// sliding counter plus a golang.org/x/time/rate token bucket for
// per-minute bursts, sharded per client so clients never contend with one
// another.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	now     func() time.Time // overridable for tests
}

// NewRateLimiter builds an empty, lazily-populated limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*clientBucket), now: time.Now}
}

func (rl *RateLimiter) bucketFor(clientID string, burstLimit int) *clientBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[clientID]
	if !ok {
		b = &clientBucket{
			lastSeen: rl.now(),
			burst:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(burstLimit)), burstLimit),
		}
		rl.buckets[clientID] = b
	}
	return b
}

// Allow checks both windows for clientID, trimming the hourly log to the
// trailing hour and consuming one burst token. On violation it sets
// block_until and returns RateLimited; while blocked, every call returns
// RateLimited without consuming further quota. The first call after
// block_until has passed clears the block and the client's hourly log.
func (rl *RateLimiter) Allow(clientID string, quotaHourly, quotaBurst int, blockDuration time.Duration) error {
	b := rl.bucketFor(clientID, quotaBurst)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	b.lastSeen = now
	if now.Before(b.blockUntil) {
		return domainerr.Newf(domainerr.RateLimited, "rate limited until %s", b.blockUntil.Format(time.RFC3339))
	}
	if !b.blockUntil.IsZero() {
		// The block has elapsed: the client starts over with an empty hourly log.
		b.blockUntil = time.Time{}
		b.hourLog = b.hourLog[:0]
	}

	cutoff := now.Add(-time.Hour)
	live := b.hourLog[:0]
	for _, t := range b.hourLog {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	b.hourLog = live

	if len(b.hourLog) >= quotaHourly {
		b.blockUntil = now.Add(blockDuration)
		return domainerr.Newf(domainerr.RateLimited, "hourly quota of %d exceeded", quotaHourly)
	}

	if !b.burst.AllowN(now, 1) {
		b.blockUntil = now.Add(blockDuration)
		return domainerr.Newf(domainerr.RateLimited, "burst quota of %d/min exceeded", quotaBurst)
	}

	b.hourLog = append(b.hourLog, now)
	return nil
}

// Evict drops buckets idle past idleFor, bounding memory for long-running
// processes with a rotating client population.
func (rl *RateLimiter) Evict(idleFor time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for id, b := range rl.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastSeen) > idleFor && now.After(b.blockUntil)
		b.mu.Unlock()
		if idle {
			delete(rl.buckets, id)
		}
	}
}
