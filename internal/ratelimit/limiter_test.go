package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestConsume_CapacityThenRetryAfter(t *testing.T) {
	const capacity = 5
	clock := newFakeClock()
	l := New(capacity, 10, WithClock(clock.Now))

	for i := 0; i < capacity; i++ {
		dec := l.Consume("10.0.0.1")
		require.True(t, dec.Allowed, "consume %d", i+1)
		assert.Zero(t, dec.RetryAfterMs)
	}

	dec := l.Consume("10.0.0.1")
	require.False(t, dec.Allowed)
	assert.Equal(t, int64(100), dec.RetryAfterMs)

	// a denied call must not push the next token further out
	dec = l.Consume("10.0.0.1")
	require.False(t, dec.Allowed)
	assert.Equal(t, int64(100), dec.RetryAfterMs)

	clock.Advance(time.Duration(dec.RetryAfterMs) * time.Millisecond)
	assert.True(t, l.Consume("10.0.0.1").Allowed)
	assert.False(t, l.Consume("10.0.0.1").Allowed)
}

func TestConsume_RetryAfterRoundsUp(t *testing.T) {
	clock := newFakeClock()
	l := New(1, 3, WithClock(clock.Now))

	require.True(t, l.Consume("k").Allowed)
	dec := l.Consume("k")
	require.False(t, dec.Allowed)
	// 1/3 s = 333.33ms
	assert.Equal(t, int64(334), dec.RetryAfterMs)

	clock.Advance(334 * time.Millisecond)
	assert.True(t, l.Consume("k").Allowed)
}

func TestConsume_KeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	l := New(1, 0.01, WithClock(clock.Now))

	assert.True(t, l.Consume("a").Allowed)
	assert.False(t, l.Consume("a").Allowed)
	assert.True(t, l.Consume("b").Allowed)
	assert.Equal(t, 2, l.Len())
}

func TestConsume_ZeroCapacityNeverAdmits(t *testing.T) {
	l := New(0, 10)
	dec := l.Consume("k")
	assert.False(t, dec.Allowed)
	assert.Positive(t, dec.RetryAfterMs)
}

func TestCleanup_RemovesIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	l := New(1, 0.01, WithClock(clock.Now), WithIdleTTL(time.Minute), WithCleanupEvery(0))

	require.True(t, l.Consume("idle").Allowed)
	clock.Advance(30 * time.Second)
	require.True(t, l.Consume("active").Allowed)
	clock.Advance(45 * time.Second)

	l.Cleanup()
	assert.Equal(t, 1, l.Len())

	// a recreated bucket starts full
	assert.True(t, l.Consume("idle").Allowed)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(1), RetryAfterSeconds(0))
	assert.Equal(t, int64(1), RetryAfterSeconds(100))
	assert.Equal(t, int64(1), RetryAfterSeconds(1000))
	assert.Equal(t, int64(2), RetryAfterSeconds(1001))
}

func TestPrometheusStats_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	stats, err := NewPrometheusStats(reg)
	require.NoError(t, err)

	// registering twice reuses the existing collector
	again, err := NewPrometheusStats(reg)
	require.NoError(t, err)

	l := New(1, 0.01, WithStats(MultiStats{stats, again}))
	l.Consume("k")
	l.Consume("k")

	assert.Equal(t, float64(2), testutil.ToFloat64(stats.decisions.WithLabelValues("allowed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(stats.decisions.WithLabelValues("denied")))
}

func TestRedisStats_NilClientIsNoop(t *testing.T) {
	s := NewRedisStats(nil)
	assert.NotPanics(t, func() {
		s.Record("k", Decision{Allowed: true}, time.Now())
		s.Close()
	})
}

func withStatsWriter(fn func(context.Context, statsOp) error) RedisStatsOption {
	return func(s *RedisStats) { s.write = fn }
}

func TestRedisStats_RecordDoesNotWaitOnRedis(t *testing.T) {
	release := make(chan struct{})
	var written atomic.Int64
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	s := NewRedisStats(rdb, WithStatsBuffer(4), withStatsWriter(func(context.Context, statsOp) error {
		<-release
		written.Add(1)
		return nil
	}))

	started := time.Now()
	for i := 0; i < 100; i++ {
		s.Record("k", Decision{Allowed: true}, started)
	}
	assert.Less(t, time.Since(started), time.Second)
	assert.Positive(t, s.Dropped())

	close(release)
	s.Close()
	assert.Equal(t, int64(100), written.Load()+s.Dropped())

	// after Close nothing is queued or written
	s.Record("k", Decision{Allowed: true}, started)
	assert.Equal(t, int64(100), written.Load()+s.Dropped())
}
