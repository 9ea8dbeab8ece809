// Package workers implements the ingest worker (C7) and thread manager
// (C8): the per-worker consume/recover loops and the supervisor that spawns,
// restarts, and health-checks them. Grounded on
// telemetry_stream_consumer.go's consume loop and dlq ack-semantics, and on
// telemetry_analytics_worker.go's health/stats bookkeeping and lifecycle
// atomics, generalized here into a standalone component pair instead of a
// single monolithic worker type.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"logpipe/internal/core/buffer"
	"logpipe/internal/core/domain/logrecord"
	"logpipe/internal/infrastructure/retry"
	"logpipe/internal/infrastructure/streams"
)

// Role is the role a worker is spawned with (§4.7).
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleRecovery Role = "recovery"
)

// State is a worker's lifecycle state machine position (§4.7).
type State int32

const (
	StateSpawning State = iota
	StateRunning
	StateDraining
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config configures an IngestWorker (§4.7, §5).
type Config struct {
	Name             string
	Role             Role
	BatchSize        int64
	BlockMs          int
	PollInterval     time.Duration
	RecoveryInterval time.Duration
	// RetryQueueLimit and BackpressureCooldown implement §4.7/§5's
	// backpressure rule: pause consumption when the DLQ backlog is at or
	// above the limit.
	RetryQueueLimit      int64
	BackpressureCooldown time.Duration
	// ReadErrorBackoff is the pause after a transient broker read error
	// (§7 "Broker transient read error").
	ReadErrorBackoff time.Duration
}

func DefaultConfig(name string, role Role) Config {
	return Config{
		Name:                 name,
		Role:                 role,
		BatchSize:            100,
		BlockMs:              200,
		PollInterval:         50 * time.Millisecond,
		RecoveryInterval:     5 * time.Second,
		RetryQueueLimit:      1000,
		BackpressureCooldown: 5 * time.Second,
		ReadErrorBackoff:     1 * time.Second,
	}
}

// Health is the shape a worker reports to the thread manager's aggregation
// round-trip (§4.8).
type Health struct {
	Name      string
	Role      Role
	State     State
	LastError string
}

// IngestWorker implements C7: it owns one stream consumer identity, one
// batch buffer, one retry strategy, and drives either the consumer or
// recovery loop depending on its role. No state is shared with any other
// worker instance (§5 "Shared resources and mutation").
type IngestWorker struct {
	cfg     Config
	stream  *streams.LogStreamAdapter
	buf     *buffer.BatchBuffer
	retryer *retry.DeadLetterStrategy
	logger  *logrus.Entry

	state   atomic.Int32
	lastErr atomic.Value // string

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func NewIngestWorker(cfg Config, stream *streams.LogStreamAdapter, buf *buffer.BatchBuffer, retryer *retry.DeadLetterStrategy, logger *logrus.Logger) *IngestWorker {
	w := &IngestWorker{
		cfg:     cfg,
		stream:  stream,
		buf:     buf,
		retryer: retryer,
		logger:  logger.WithField("worker", cfg.Name),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.state.Store(int32(StateSpawning))
	w.lastErr.Store("")
	return w
}

func (w *IngestWorker) setState(s State) { w.state.Store(int32(s)) }

func (w *IngestWorker) setError(err error) {
	w.lastErr.Store(err.Error())
	w.setState(StateError)
}

// Run starts the worker's loop for its configured role and blocks until
// Shutdown is called or ctx is canceled. At startup a consumer worker drains
// its own prior pending entries once (graceful restart); a recovery worker
// never calls read at all.
func (w *IngestWorker) Run(ctx context.Context) error {
	if err := w.stream.Initialize(ctx); err != nil {
		w.setError(err)
		return fmt.Errorf("worker %s: initialize stream: %w", w.cfg.Name, err)
	}

	w.setState(StateRunning)
	defer close(w.done)

	if w.cfg.Role == RoleConsumer {
		if err := w.drainOwnPending(ctx); err != nil {
			w.logger.WithError(err).Warn("failed to drain own pending entries at startup")
		}
		w.runConsumerLoop(ctx)
	} else {
		w.runRecoveryLoop(ctx)
	}

	w.setState(StateStopped)
	return nil
}

func (w *IngestWorker) drainOwnPending(ctx context.Context) error {
	msgs, err := w.stream.ReadPending(ctx, w.cfg.BatchSize, "0-0")
	if err != nil {
		return err
	}
	w.ingest(ctx, msgs)
	return nil
}

func (w *IngestWorker) runConsumerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		default:
		}

		if w.shouldApplyBackpressure(ctx) {
			time.Sleep(w.cfg.BackpressureCooldown)
			continue
		}

		msgs, err := w.stream.Read(ctx, w.cfg.BatchSize, w.cfg.BlockMs)
		if err != nil {
			w.logger.WithError(err).Warn("transient broker read error, backing off")
			time.Sleep(w.cfg.ReadErrorBackoff)
			continue
		}

		w.ingest(ctx, msgs)

		select {
		case <-time.After(w.cfg.PollInterval):
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *IngestWorker) runRecoveryLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		default:
		}

		msgs, err := w.stream.RecoverPendingMessages(ctx, w.cfg.BatchSize)
		if err != nil {
			w.logger.WithError(err).Warn("auto-claim failed")
		} else {
			w.ingest(ctx, msgs)
		}

		select {
		case <-time.After(w.cfg.RecoveryInterval):
		case <-w.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *IngestWorker) shouldApplyBackpressure(ctx context.Context) bool {
	if w.retryer == nil {
		return false
	}
	stats, err := w.retryer.GetStats(ctx)
	if err != nil {
		return false
	}
	return stats.QueueLength >= w.cfg.RetryQueueLimit
}

// ingest deserializes each message's JSON payload back into a
// NormalizedRecord, attaches the broker-assigned id, and hands the batch to
// the buffer. A malformed payload is acked immediately to drop it (§7
// "Malformed stream payload") rather than added to the buffer.
func (w *IngestWorker) ingest(ctx context.Context, msgs []streams.Message) {
	if len(msgs) == 0 {
		return
	}

	records := make([]*logrecord.NormalizedRecord, 0, len(msgs))
	var malformed []string

	for _, msg := range msgs {
		var raw logrecord.RawRecord
		if err := json.Unmarshal(msg.Data, &raw); err != nil {
			malformed = append(malformed, msg.ID)
			continue
		}
		rec, err := logrecord.New(raw)
		if err != nil {
			malformed = append(malformed, msg.ID)
			continue
		}
		records = append(records, rec.WithStreamMessageID(msg.ID))
	}

	if len(malformed) > 0 {
		if err := w.stream.Ack(ctx, malformed); err != nil {
			w.logger.WithError(err).Error("failed to ack malformed messages")
		}
	}

	if len(records) == 0 {
		return
	}

	if err := w.buf.Add(ctx, records); err != nil {
		w.logger.WithError(err).Error("failed to add records to buffer")
	}
}

// AckFlushed is the buffer's OnFlushSuccess callback: it extracts each
// record's streamMessageId and acks the set on the stream adapter. Ack
// failures are logged and returned to the buffer, which only logs them in
// turn — the records are already durable, so worst case is redelivery on
// restart (§4.7).
func (w *IngestWorker) AckFlushed(records []*logrecord.NormalizedRecord) error {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if id := r.StreamMessageID(); id != "" {
			ids = append(ids, id)
		}
	}
	if err := w.stream.Ack(context.Background(), ids); err != nil {
		w.logger.WithError(err).Error("ack failed for flushed batch")
		return err
	}
	return nil
}

// Shutdown implements §4.7's shutdown sequence: stop accepting new
// messages, wait for the current batch, drain the buffer, then release the
// stream adapter.
func (w *IngestWorker) Shutdown(ctx context.Context) error {
	w.setState(StateDraining)
	w.once.Do(func() { close(w.quit) })

	select {
	case <-w.done:
	case <-time.After(10 * time.Second):
		w.logger.Warn("worker did not stop cooperatively within 10s")
	}

	result := w.buf.Shutdown(ctx)
	if result.Failed > 0 {
		w.logger.WithField("failed", result.Failed).Error("final flush on shutdown failed")
	}

	if err := w.stream.Shutdown(ctx); err != nil {
		return fmt.Errorf("worker %s: stream shutdown: %w", w.cfg.Name, err)
	}

	w.setState(StateStopped)
	return nil
}

// HealthCheck reports the worker's current state (§4.7/§4.8).
func (w *IngestWorker) HealthCheck() Health {
	errStr, _ := w.lastErr.Load().(string)
	return Health{
		Name:      w.cfg.Name,
		Role:      w.cfg.Role,
		State:     State(w.state.Load()),
		LastError: errStr,
	}
}
