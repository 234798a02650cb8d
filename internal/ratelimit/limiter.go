// Package ratelimit implements per-client token-bucket admission control.
//
// Buckets live in process memory, so with N instances behind a load balancer
// a client can be admitted up to N times the configured capacity.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of a Consume call.
type Decision struct {
	Allowed bool
	// RetryAfterMs is the wait until the next token is available, rounded up.
	// Zero when Allowed.
	RetryAfterMs int64
}

// Consumer is the capability the request pipeline needs from a limiter.
type Consumer interface {
	Consume(key string) Decision
}

// Limiter keeps one token bucket per key, created on first use and dropped
// after IdleTTL without traffic.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	capacity     int
	refill       rate.Limit
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
	stats        StatsRecorder
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Option func(*Limiter)

// WithIdleTTL sets how long an unused bucket is kept.
func WithIdleTTL(d time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = d }
}

// WithCleanupEvery sets the janitor period. Zero disables the janitor.
func WithCleanupEvery(d time.Duration) Option {
	return func(l *Limiter) { l.cleanupEvery = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithStats records every decision.
func WithStats(s StatsRecorder) Option {
	return func(l *Limiter) { l.stats = s }
}

// New creates a Limiter whose buckets hold capacity tokens and refill at
// refillPerSec tokens per second.
func New(capacity int, refillPerSec float64, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:      make(map[string]*bucket),
		capacity:     capacity,
		refill:       rate.Limit(refillPerSec),
		idleTTL:      10 * time.Minute,
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Capacity() int { return l.capacity }

func (l *Limiter) RefillPerSec() float64 { return float64(l.refill) }

// Consume takes one token from key's bucket.
func (l *Limiter) Consume(key string) Decision {
	now := l.now()
	dec := l.take(key, now)
	if l.stats != nil {
		l.stats.Record(key, dec, now)
	}
	return dec
}

func (l *Limiter) take(key string, now time.Time) Decision {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.refill, l.capacity)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		// a zero-capacity bucket never admits anything
		return Decision{Allowed: false, RetryAfterMs: int64(time.Hour / time.Millisecond)}
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return Decision{Allowed: true}
	}
	r.CancelAt(now)
	return Decision{Allowed: false, RetryAfterMs: ceilMillis(delay)}
}

// Len reports the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup drops buckets idle for longer than IdleTTL.
func (l *Limiter) Cleanup() {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (l *Limiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}

func ceilMillis(d time.Duration) int64 {
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int64(ms)
}

// RetryAfterSeconds converts a retry hint to a Retry-After header value,
// rounding up and never below one second.
func RetryAfterSeconds(retryAfterMs int64) int64 {
	secs := (retryAfterMs + 999) / 1000
	if secs < 1 {
		return 1
	}
	return secs
}
