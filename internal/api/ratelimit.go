package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out a token bucket per key. Keys are session ids, so one
// noisy conversation cannot starve another.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute turns per key with a burst of the same size
// and starts the background eviction goroutine. A non-positive perMinute
// disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		idle:     2 * time.Minute,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if perMinute <= 0 {
		rl.limit = rate.Inf
		return rl
	}
	rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
	rl.burst = perMinute
	rl.startEviction()
	return rl
}

// Allow reports whether key may take one more turn now.
func (r *RateLimiter) Allow(key string) bool {
	if r.limit == rate.Inf {
		return true
	}
	now := r.now()

	r.mu.Lock()
	e, ok := r.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = e
	}
	e.lastSeen = now
	r.mu.Unlock()

	return e.lim.AllowN(now, 1)
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.idle)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.evictIdle()
			}
		}
	}()
}

// evictIdle drops buckets untouched for longer than the idle window; such a
// bucket is full again, so forgetting it changes nothing for the client.
func (r *RateLimiter) evictIdle() int {
	cutoff := r.now().Add(-r.idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key, e := range r.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
			n++
		}
	}
	return n
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
