package httpapi

import (
	"sync"
	"time"
)

// Token bucket per client IP, guarding the increment endpoint against
// view-count stuffing from a single address.

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

type rateLimiter struct {
	mu    sync.Mutex
	rps   float64
	burst int
	bkts  map[string]*bucket // key: ip
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{rps: rps, burst: burst, bkts: make(map[string]*bucket)}
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	bkt, ok := rl.bkts[key]
	if !ok {
		rl.evictStale(now)
		bkt = &bucket{tokens: float64(rl.burst), lastRefill: now}
		rl.bkts[key] = bkt
	}

	elapsed := now.Sub(bkt.lastRefill).Seconds()
	bkt.tokens = min(float64(rl.burst), bkt.tokens+elapsed*rl.rps)
	bkt.lastRefill = now

	if bkt.tokens >= 1 {
		bkt.tokens -= 1
		return true
	}
	return false
}

// evictStale drops buckets idle long enough to be full again, keeping
// the map bounded under churny traffic. Caller holds the lock.
func (rl *rateLimiter) evictStale(now time.Time) {
	if len(rl.bkts) < 10000 {
		return
	}
	idle := time.Duration(float64(rl.burst)/rl.rps*float64(time.Second)) + time.Minute
	for k, b := range rl.bkts {
		if now.Sub(b.lastRefill) > idle {
			delete(rl.bkts, k)
		}
	}
}
