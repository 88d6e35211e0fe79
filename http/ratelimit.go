// Package http provides the outbound transport shared by the YouTube and
// Sheets clients: per-host rate limiting, circuit breaking and pooling.
package http

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Backoff tuning for hosts that answer 429.
const (
	// BackoffCooldownPeriod is how long a host must stay quiet before its
	// original rate is restored.
	BackoffCooldownPeriod = 5 * time.Minute
	// MinRateMultiplier bounds how far a throttled host's rate is cut.
	MinRateMultiplier = 0.25
)

// hostState is the limiter and throttling history of one host.
type hostState struct {
	limiter           *rate.Limiter
	consecutiveErrors int
	lastError         time.Time
	throttled         bool
}

// RateLimiter spaces requests per host with a token bucket of burst 1.
// A host that answers 429 has its rate cut, down to MinRateMultiplier of
// the base rate, and restored after a quiet BackoffCooldownPeriod.
type RateLimiter struct {
	mu    sync.Mutex
	limit rate.Limit
	hosts map[string]*hostState
	now   func() time.Time
}

// NewRateLimiter allows one request per delay to each host. A delay of 0
// disables limiting.
func NewRateLimiter(delay time.Duration) *RateLimiter {
	return &RateLimiter{
		limit: limitFor(delay),
		hosts: make(map[string]*hostState),
		now:   time.Now,
	}
}

func limitFor(delay time.Duration) rate.Limit {
	if delay <= 0 {
		return rate.Inf
	}
	return rate.Every(delay)
}

// SetDelay changes the base spacing for every host.
func (rl *RateLimiter) SetDelay(delay time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit = limitFor(delay)
	for _, h := range rl.hosts {
		h.limiter.SetLimit(rl.limit)
		h.consecutiveErrors = 0
		h.throttled = false
	}
}

func (rl *RateLimiter) host(name string) *hostState {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	h, ok := rl.hosts[name]
	if !ok {
		h = &hostState{limiter: rate.NewLimiter(rl.limit, 1)}
		rl.hosts[name] = h
	}
	return h
}

// Wait blocks until host may be contacted or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, host string) error {
	if rl == nil {
		return nil
	}
	return rl.host(host).limiter.Wait(ctx)
}

// RecordRateLimitError cuts host's rate: 75%, 50%, then 25% of the base.
// It returns the wait the caller should observe, at least retryAfter.
func (rl *RateLimiter) RecordRateLimitError(host string, retryAfter time.Duration) time.Duration {
	h := rl.host(host)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	h.consecutiveErrors++
	h.lastError = rl.now()

	if rl.limit == rate.Inf {
		return retryAfter
	}
	factor := 1 - 0.25*float64(h.consecutiveErrors)
	if factor < MinRateMultiplier {
		factor = MinRateMultiplier
	}
	h.limiter.SetLimit(rl.limit * rate.Limit(factor))
	h.throttled = true

	if wait := time.Duration(float64(time.Second) / float64(h.limiter.Limit())); wait > retryAfter {
		return wait
	}
	return retryAfter
}

// RecordSuccess decays host's error count and restores the base rate once
// the host has been quiet for BackoffCooldownPeriod.
func (rl *RateLimiter) RecordSuccess(host string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	h, ok := rl.hosts[host]
	if !ok || !h.throttled {
		return
	}
	if h.consecutiveErrors > 0 {
		h.consecutiveErrors--
	}
	if rl.now().Sub(h.lastError) > BackoffCooldownPeriod {
		h.limiter.SetLimit(rl.limit)
		h.consecutiveErrors = 0
		h.throttled = false
	}
}

// Limit returns the current rate for host.
func (rl *RateLimiter) Limit(host string) rate.Limit {
	return rl.host(host).limiter.Limit()
}
