// Package buffer implements the batch buffer (C4, §4.4): it accumulates
// normalized records, flushes them on size or time triggers, and hands a
// failed flush to the retry strategy before ever acknowledging the source
// messages. The single-flight `isFlushing` latch and self-rescheduling
// timer follow the pattern TelemetryAnalyticsWorker uses for its own
// channel/ticker buffering, generalized here into a standalone component
// instead of a worker-embedded field set.
package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"logpipe/internal/core/domain/logrecord"
)

// ErrShuttingDown is returned by Add once the buffer has begun shutting
// down (§4.4 "Rejects with a defined error once isShuttingDown").
var ErrShuttingDown = errors.New("buffer: shutting down, no longer accepting records")

const (
	minBatchSize     = 1
	maxBatchSizeCap  = 1_000_000
	defaultBatchSize = 100_000

	minWaitTime     = 100 * time.Millisecond
	maxWaitTimeCap  = 30 * time.Second
	defaultWaitTime = 1 * time.Second

	healthCacheTTL = 5 * time.Second
)

// Persister is the C6 persistence adapter as seen by the buffer: it takes a
// batch and durably stores it, or returns an error.
type Persister interface {
	Persist(ctx context.Context, records []*logrecord.NormalizedRecord) error
}

// RetryQueuer is the C5 retry/dead-letter strategy as seen by the buffer.
type RetryQueuer interface {
	QueueForRetry(ctx context.Context, records []*logrecord.NormalizedRecord, cause error) error
	Shutdown(ctx context.Context) error
}

// Config configures a BatchBuffer (§4.4).
type Config struct {
	MaxBatchSize int
	MaxWaitTime  time.Duration
	// OnFlushSuccess is invoked with every record that is either durably
	// persisted or durably handed to the retry queue. Its return error is
	// logged, never propagated: durability has already been achieved by
	// the time it is called.
	OnFlushSuccess func(records []*logrecord.NormalizedRecord) error
}

func (c Config) clamped() Config {
	if c.MaxBatchSize < minBatchSize {
		c.MaxBatchSize = defaultBatchSize
	}
	if c.MaxBatchSize > maxBatchSizeCap {
		c.MaxBatchSize = maxBatchSizeCap
	}
	if c.MaxWaitTime < minWaitTime {
		c.MaxWaitTime = defaultWaitTime
	}
	if c.MaxWaitTime > maxWaitTimeCap {
		c.MaxWaitTime = maxWaitTimeCap
	}
	return c
}

// Metrics mirrors the buffer's running counters (§4.4 state list).
type Metrics struct {
	TotalBuffered int64
	TotalInserted int64
	TotalFlushes  int64
	TotalErrors   int64
	LastFlushSize int
	LastFlushTime time.Time
}

// Health is getHealth()'s return shape (§4.4).
type Health struct {
	Healthy       bool
	BufferUsagePct float64
	ErrorRatePct  float64
	IsFlushing    bool
	Metrics       Metrics
}

// ShutdownResult is shutdown()'s return shape (§4.4).
type ShutdownResult struct {
	Flushed int
	Failed  int
}

// BatchBuffer implements C4. A single instance belongs to exactly one
// worker; flush() enforces single-flight via isFlushing so at most one
// flush runs per buffer at a time (§4.4 invariant).
type BatchBuffer struct {
	cfg       Config
	persister Persister
	retry     RetryQueuer
	logger    *logrus.Logger

	mu             sync.Mutex
	buffer         []*logrecord.NormalizedRecord
	isFlushing     bool
	isShuttingDown bool
	metrics        Metrics

	timer     *time.Timer
	timerStop chan struct{}
	timerOnce sync.Once

	healthMu       sync.Mutex
	healthCachedAt time.Time
	healthCached   Health
}

func New(cfg Config, persister Persister, retry RetryQueuer, logger *logrus.Logger) *BatchBuffer {
	b := &BatchBuffer{
		cfg:       cfg.clamped(),
		persister: persister,
		retry:     retry,
		logger:    logger,
		timerStop: make(chan struct{}),
	}
	b.buffer = make([]*logrecord.NormalizedRecord, 0, b.cfg.MaxBatchSize)
	b.startTimer()
	return b
}

// Add appends records to the buffer (§4.4 add()). If the buffer reaches
// maxBatchSize, it triggers an asynchronous flush so Add itself never
// blocks on persistence.
func (b *BatchBuffer) Add(ctx context.Context, records []*logrecord.NormalizedRecord) error {
	b.mu.Lock()
	if b.isShuttingDown {
		b.mu.Unlock()
		return ErrShuttingDown
	}
	b.buffer = append(b.buffer, records...)
	b.metrics.TotalBuffered += int64(len(records))
	shouldFlush := len(b.buffer) >= b.cfg.MaxBatchSize
	b.mu.Unlock()

	if shouldFlush {
		go b.Flush(ctx)
	}
	return nil
}

// Flush implements §4.4's flush(): exclusive, detaches the buffer under
// lock, persists outside the lock, and routes failures to the retry
// strategy. Acknowledgment goes through the OnFlushSuccess callback, which
// Flush invokes only after a successful persist or a successful retry
// hand-off; when both fail it returns the retry error and invokes nothing.
func (b *BatchBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.isFlushing || len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.isFlushing = true
	toFlush := b.buffer
	b.buffer = make([]*logrecord.NormalizedRecord, 0, b.cfg.MaxBatchSize)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.isFlushing = false
		b.mu.Unlock()
	}()

	err := b.persister.Persist(ctx, toFlush)
	if err == nil {
		b.recordFlushSuccess(len(toFlush))
		b.invokeOnFlushSuccess(toFlush)
		return nil
	}

	b.logger.WithError(err).WithField("batch_size", len(toFlush)).Warn("flush failed, routing to retry strategy")
	b.recordFlushError()

	if retryErr := b.retry.QueueForRetry(ctx, toFlush, err); retryErr != nil {
		// Neither persist nor the retry queue took ownership: the records
		// must remain un-acked so the broker retains them for recovery.
		b.logger.WithError(retryErr).Error("retry strategy also failed, records remain unacked")
		return retryErr
	}

	// The retry queue (DLQ) is now durably holding these records, so they
	// must still be acked — otherwise the broker redelivers them forever.
	b.recordFlushSuccess(len(toFlush))
	b.invokeOnFlushSuccess(toFlush)
	return nil
}

func (b *BatchBuffer) recordFlushSuccess(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalInserted += int64(n)
	b.metrics.TotalFlushes++
	b.metrics.LastFlushSize = n
	b.metrics.LastFlushTime = time.Now()
}

func (b *BatchBuffer) recordFlushError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalErrors++
}

func (b *BatchBuffer) invokeOnFlushSuccess(records []*logrecord.NormalizedRecord) {
	if b.cfg.OnFlushSuccess == nil {
		return
	}
	if err := b.cfg.OnFlushSuccess(records); err != nil {
		b.logger.WithError(err).Warn("onFlushSuccess callback returned an error, ignoring: durability already achieved")
	}
}

func (b *BatchBuffer) startTimer() {
	go func() {
		timer := time.NewTimer(b.cfg.MaxWaitTime)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				b.mu.Lock()
				shutting := b.isShuttingDown
				hasData := len(b.buffer) > 0
				b.mu.Unlock()
				if hasData {
					_ = b.Flush(context.Background())
				}
				if shutting {
					return
				}
				timer.Reset(b.cfg.MaxWaitTime)
			case <-b.timerStop:
				return
			}
		}
	}()
}

// Shutdown implements §4.4's shutdown(): stops accepting new records,
// cancels the timer, performs one final synchronous flush, and shuts the
// retry strategy down behind it.
func (b *BatchBuffer) Shutdown(ctx context.Context) ShutdownResult {
	b.mu.Lock()
	b.isShuttingDown = true
	b.mu.Unlock()

	b.timerOnce.Do(func() { close(b.timerStop) })

	result := ShutdownResult{}
	if err := b.Flush(ctx); err != nil {
		result.Failed = 1
	} else {
		result.Flushed = 1
	}

	if err := b.retry.Shutdown(ctx); err != nil {
		b.logger.WithError(err).Error("retry strategy shutdown failed")
	}

	return result
}

// GetHealth implements §4.4's getHealth(), caching its derived view for
// healthCacheTTL so frequent health polling (C8's aggregation tick) never
// contends with the buffer's own lock under load.
func (b *BatchBuffer) GetHealth() Health {
	b.healthMu.Lock()
	defer b.healthMu.Unlock()

	if time.Since(b.healthCachedAt) < healthCacheTTL {
		return b.healthCached
	}

	b.mu.Lock()
	usage := 0.0
	if b.cfg.MaxBatchSize > 0 {
		usage = float64(len(b.buffer)) / float64(b.cfg.MaxBatchSize) * 100
	}
	errRate := 0.0
	if b.metrics.TotalFlushes > 0 {
		errRate = float64(b.metrics.TotalErrors) / float64(b.metrics.TotalFlushes) * 100
	}
	h := Health{
		Healthy:        !b.isShuttingDown && errRate < 50,
		BufferUsagePct: usage,
		ErrorRatePct:   errRate,
		IsFlushing:     b.isFlushing,
		Metrics:        b.metrics,
	}
	b.mu.Unlock()

	b.healthCached = h
	b.healthCachedAt = time.Now()
	return h
}
