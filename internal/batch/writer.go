// Package batch buffers accepted records and writes them to a sink in
// batches, flushing on whichever comes first: the buffer reaching MaxBatchSize
// or the FlushInterval ticker firing.
//
// Retries after a partial failure may resend records the sink already
// persisted. Records carry ids so duplicates can be removed downstream.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
	"github.com/PratikDhanave/event-ingestion-service/internal/ids"
)

// Batch is an ordered group of records written in one sink call.
type Batch[T any] struct {
	ID        string
	Stream    string
	Items     []T
	CreatedAt time.Time
}

// Sink persists a batch.
type Sink[T any] interface {
	Write(ctx context.Context, b Batch[T]) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc[T any] func(ctx context.Context, b Batch[T]) error

func (f SinkFunc[T]) Write(ctx context.Context, b Batch[T]) error { return f(ctx, b) }

// Enqueuer is the capability request handlers need from a writer.
type Enqueuer[T any] interface {
	Enqueue(item T) error
}

// Config tunes one writer instance.
type Config struct {
	// Stream names the writer in logs and metrics.
	Stream        string
	MaxBatchSize  int
	FlushInterval time.Duration
	// MaxAttempts bounds write attempts per batch, the first one included.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// WriteTimeout bounds each individual sink call.
	WriteTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *Metrics
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = "default"
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Writer accumulates records and flushes them to a Sink. Producers only hold
// the mutex long enough to append or swap the buffer; sink writes happen
// outside it.
type Writer[T any] struct {
	cfg  Config
	sink Sink[T]
	log  *slog.Logger

	mu     sync.Mutex
	buf    []T
	closed bool

	inflight tracker
	stop     chan struct{}
	done     chan struct{}
}

// NewWriter starts a writer and its flush ticker.
func NewWriter[T any](sink Sink[T], cfg Config) *Writer[T] {
	cfg = cfg.withDefaults()
	w := &Writer[T]{
		cfg:  cfg,
		sink: sink,
		log:  cfg.Logger.With("stream", cfg.Stream),
		buf:  make([]T, 0, cfg.MaxBatchSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.tick()
	return w
}

// Enqueue buffers item without waiting for any write. It fails with
// writer.closed once Shutdown has started.
func (w *Writer[T]) Enqueue(item T) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return apperr.New(apperr.CodeWriterClosed, "")
	}
	w.buf = append(w.buf, item)
	var full []T
	if len(w.buf) >= w.cfg.MaxBatchSize {
		full = w.swapLocked()
		// counted before unlocking so a concurrent Shutdown waits for it
		w.inflight.add()
	}
	buffered := len(w.buf)
	w.mu.Unlock()

	w.cfg.Metrics.setBuffered(w.cfg.Stream, buffered)
	if full != nil {
		w.writeAsync(full)
	}
	return nil
}

// Flush writes whatever is buffered and waits for it, and for any writes
// already in flight, to finish. It returns the error of the batch it wrote
// when that batch was dropped after exhausting retries.
func (w *Writer[T]) Flush(ctx context.Context) error {
	w.mu.Lock()
	items := w.swapLocked()
	if items != nil {
		w.inflight.add()
	}
	w.mu.Unlock()
	w.cfg.Metrics.setBuffered(w.cfg.Stream, 0)

	var err error
	if items != nil {
		err = w.write(ctx, items)
	}
	w.inflight.wait()
	return err
}

// Shutdown stops accepting records, stops the ticker, flushes the remainder
// and waits for in-flight writes. In-flight writes are never cancelled.
// Shutdown must not be called concurrently with itself; a second call fails
// with writer.closed.
func (w *Writer[T]) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return apperr.New(apperr.CodeWriterClosed, "writer already shut down")
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done

	err := w.Flush(ctx)
	w.log.Info("batch writer stopped")
	return err
}

// Buffered reports the number of records waiting for a flush.
func (w *Writer[T]) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

func (w *Writer[T]) tick() {
	defer close(w.done)

	t := time.NewTicker(w.cfg.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.mu.Lock()
			items := w.swapLocked()
			if items != nil {
				w.inflight.add()
			}
			w.mu.Unlock()
			if items != nil {
				w.cfg.Metrics.setBuffered(w.cfg.Stream, 0)
				w.writeAsync(items)
			}
		}
	}
}

// swapLocked detaches the current buffer. It returns nil for an empty buffer.
// Callers holding a non-nil result must call inflight.add before unlocking.
func (w *Writer[T]) swapLocked() []T {
	if len(w.buf) == 0 {
		return nil
	}
	items := w.buf
	w.buf = make([]T, 0, w.cfg.MaxBatchSize)
	return items
}

// writeAsync starts a write for a batch already counted in inflight.
func (w *Writer[T]) writeAsync(items []T) {
	go func() {
		_ = w.write(context.Background(), items)
	}()
}

// write delivers one batch with bounded exponential backoff and drops it
// once attempts are exhausted. The caller must have called inflight.add.
func (w *Writer[T]) write(ctx context.Context, items []T) error {
	defer w.inflight.done()

	// cancelling a flush caller must not abandon a write mid-flight
	ctx = context.WithoutCancel(ctx)

	b := Batch[T]{
		ID:        ids.NewULID(),
		Stream:    w.cfg.Stream,
		Items:     items,
		CreatedAt: time.Now().UTC(),
	}

	ctx, span := otel.Tracer("ingest/batch").Start(ctx, "batch.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", b.ID),
		attribute.String("batch.stream", b.Stream),
		attribute.Int("batch.size", len(items)),
	)

	started := time.Now()
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
		defer cancel()
		return struct{}{}, w.sink.Write(attemptCtx, b)
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(uint(w.cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(w.maxElapsed()),
		backoff.WithNotify(func(err error, next time.Duration) {
			w.log.Warn("batch write failed, retrying",
				"batch_id", b.ID, "attempt", attempts, "retry_in", next, "error", err)
		}),
	)
	w.cfg.Metrics.observeFlush(w.cfg.Stream, time.Since(started), err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch dropped")
		w.cfg.Metrics.addDropped(w.cfg.Stream, len(items))

		failure := apperr.Wrap(apperr.CodeFlushFailed, "", err).
			WithMetadata("batch_id", b.ID).
			WithMetadata("events", len(items)).
			WithMetadata("attempts", attempts)
		w.log.Error("batch dropped after retries",
			"code", failure.Code, "batch_id", b.ID, "events", len(items), "attempts", attempts, "error", err)
		return failure
	}

	span.SetAttributes(attribute.Int("batch.attempts", attempts))
	w.log.Debug("batch written", "batch_id", b.ID, "events", len(items), "attempts", attempts)
	return nil
}

// maxElapsed is large enough that MaxAttempts is always the limit that applies.
func (w *Writer[T]) maxElapsed() time.Duration {
	return time.Duration(w.cfg.MaxAttempts+1) * (w.cfg.WriteTimeout + w.cfg.MaxBackoff)
}

func (w *Writer[T]) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.InitialBackoff
	eb.MaxInterval = w.cfg.MaxBackoff
	eb.Multiplier = 2
	return eb
}

// tracker counts in-flight writes. Unlike sync.WaitGroup it can be waited on
// while other goroutines keep starting writes.
type tracker struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func (t *tracker) add() {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
}

func (t *tracker) done() {
	t.mu.Lock()
	t.n--
	if t.n == 0 && t.cond != nil {
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

func (t *tracker) wait() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cond == nil {
		t.cond = sync.NewCond(&t.mu)
	}
	for t.n > 0 {
		t.cond.Wait()
	}
}

// IsClosed reports whether err is the writer.closed error.
func IsClosed(err error) bool {
	return errors.Is(err, apperr.New(apperr.CodeWriterClosed, ""))
}
