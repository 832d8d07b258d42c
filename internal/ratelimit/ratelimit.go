// Package ratelimit provides the process-wide token bucket shared by all remote calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outbound requests.
type Limiter interface {
	// Wait blocks until a request may be sent or ctx is done.
	Wait(ctx context.Context) error
}

// Config holds token bucket parameters.
type Config struct {
	// RequestsPerSecond is the sustained rate. Zero or negative means unlimited.
	RequestsPerSecond float64
	// Burst is the bucket capacity.
	Burst int
}

// TokenBucket is a Limiter backed by a token bucket with an optional pause window
// set after the remote side signals throttling.
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	resume  time.Time
}

// NewTokenBucket creates a limiter from cfg.
func NewTokenBucket(cfg Config) *TokenBucket {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(limit, burst)}
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *TokenBucket {
	return NewTokenBucket(Config{})
}

// Wait implements Limiter. It honors any pause recorded by Pause before taking a token.
func (b *TokenBucket) Wait(ctx context.Context) error {
	b.mu.Lock()
	resume := b.resume
	b.mu.Unlock()

	if wait := time.Until(resume); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return b.limiter.Wait(ctx)
}

// Pause holds back every caller for d. Overlapping pauses keep the later deadline.
func (b *TokenBucket) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if until := time.Now().Add(d); until.After(b.resume) {
		b.resume = until
	}
}

// allow reports whether a request may be sent now without blocking, consuming a token if so.
func (b *TokenBucket) allow() bool {
	b.mu.Lock()
	resume := b.resume
	b.mu.Unlock()
	if time.Now().Before(resume) {
		return false
	}
	return b.limiter.Allow()
}
