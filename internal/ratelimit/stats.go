package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// StatsRecorder observes limiter decisions. Implementations are best-effort
// and must never fail the request that produced the decision.
type StatsRecorder interface {
	Record(key string, dec Decision, at time.Time)
}

// MultiStats fans a decision out to several recorders.
type MultiStats []StatsRecorder

func (m MultiStats) Record(key string, dec Decision, at time.Time) {
	for _, s := range m {
		s.Record(key, dec, at)
	}
}

func outcome(dec Decision) string {
	if dec.Allowed {
		return "allowed"
	}
	return "denied"
}

// PrometheusStats counts decisions by outcome. Keys are not used as labels
// to keep cardinality bounded.
type PrometheusStats struct {
	decisions *prometheus.CounterVec
}

// NewPrometheusStats registers the decision counter with reg.
func NewPrometheusStats(reg prometheus.Registerer) (*PrometheusStats, error) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ingest",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limiter decisions by outcome.",
	}, []string{"outcome"})

	if err := reg.Register(decisions); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		decisions = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return &PrometheusStats{decisions: decisions}, nil
}

func (p *PrometheusStats) Record(_ string, dec Decision, _ time.Time) {
	p.decisions.WithLabelValues(outcome(dec)).Inc()
}

// RedisStats keeps allowed/denied counters in Redis hashes: a cumulative
// total, one hash per minute bucket (expiring after TTL), and optionally one
// hash per key.
//
// Record only queues the decision. A single worker writes to Redis, and
// decisions that arrive while the queue is full are dropped.
type RedisStats struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	timeout   time.Duration
	trackKeys bool
	buffer    int
	log       *slog.Logger
	write     func(context.Context, statsOp) error

	ops       chan statsOp
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

type statsOp struct {
	key string
	dec Decision
	at  time.Time
}

type RedisStatsOption func(*RedisStats)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStats) { s.trackKeys = track }
}

// WithStatsBuffer sets how many decisions may wait for the writer.
func WithStatsBuffer(n int) RedisStatsOption {
	return func(s *RedisStats) {
		if n > 0 {
			s.buffer = n
		}
	}
}

func WithStatsLogger(l *slog.Logger) RedisStatsOption {
	return func(s *RedisStats) { s.log = l }
}

// NewRedisStats starts the background writer when rdb is non-nil. Call Close
// to stop it.
func NewRedisStats(rdb *redis.Client, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:     rdb,
		prefix:  "ingest:ratelimit",
		ttl:     24 * time.Hour,
		timeout: 100 * time.Millisecond,
		buffer:  1024,
		log:     slog.Default(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.write = s.record
	for _, opt := range opts {
		opt(s)
	}
	if rdb == nil {
		close(s.done)
		return s
	}
	s.ops = make(chan statsOp, s.buffer)
	go s.run()
	return s
}

func (s *RedisStats) Record(key string, dec Decision, at time.Time) {
	if s == nil || s.ops == nil {
		return
	}
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.ops <- statsOp{key: key, dec: dec, at: at}:
	default:
		if s.dropped.Add(1)%1000 == 1 {
			s.log.Warn("rate limit stats queue full, dropping", "dropped", s.dropped.Load())
		}
	}
}

// Dropped reports how many decisions were discarded because the queue was full.
func (s *RedisStats) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops the writer after it has flushed what is already queued.
func (s *RedisStats) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *RedisStats) run() {
	defer close(s.done)
	for {
		select {
		case op := <-s.ops:
			s.flush(op)
		case <-s.stop:
			for {
				select {
				case op := <-s.ops:
					s.flush(op)
				default:
					return
				}
			}
		}
	}
}

func (s *RedisStats) flush(op statsOp) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.write(ctx, op); err != nil {
		s.log.Debug("rate limit stats write failed", "error", err)
	}
}

func (s *RedisStats) record(ctx context.Context, op statsOp) error {
	field := outcome(op.dec)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, op.at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(op.key); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
