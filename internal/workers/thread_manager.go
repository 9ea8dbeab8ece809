package workers

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"logpipe/internal/core/buffer"
	"logpipe/internal/core/domain/logrecord"
	"logpipe/internal/infrastructure/database"
	"logpipe/internal/infrastructure/retry"
	"logpipe/internal/infrastructure/streams"
)

// instanceID resolves the stability key used to build consumer names
// (§4.8): WORKER_INSTANCE_ID if set, otherwise the host name. Stability
// across restarts is required so a respawned consumer reclaims its own
// prior pending entries via readPending.
func instanceID() string {
	if v := os.Getenv("WORKER_INSTANCE_ID"); v != "" {
		return v
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}

// ManagerConfig configures a ThreadManager.
type ManagerConfig struct {
	WorkerCount      int
	StreamConfig     streams.Config
	WorkerConfig     Config
	RestartBaseDelay time.Duration
	RestartMaxDelay  time.Duration
	HealthTimeout    time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultManagerConfig(workerCount int) ManagerConfig {
	return ManagerConfig{
		WorkerCount:      workerCount,
		RestartBaseDelay: 1 * time.Second,
		RestartMaxDelay:  30 * time.Second,
		HealthTimeout:    5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// supervisedWorker pairs an IngestWorker with its own cancelable run context
// and restart bookkeeping.
type supervisedWorker struct {
	worker       *IngestWorker
	cancel       context.CancelFunc
	restartCount int
	mu           sync.Mutex
}

// ThreadManager implements C8: it spawns workerCount worker instances,
// exactly one with role recovery (by convention index 0), auto-restarts on
// abnormal exit with exponential backoff, and aggregates health across the
// pool. Grounded on TelemetryAnalyticsWorker's worker-pool lifecycle
// (workerWg, running flag, lifecycleMu) generalized from a fixed dual-queue
// pool into a role-assigned, individually-supervised worker set.
type ThreadManager struct {
	cfg           ManagerConfig
	redis         *database.RedisDB
	sink          *database.ClickHouseSink
	logger        *logrus.Logger
	newRetry      func(scope string) (*retry.DeadLetterStrategy, error)

	mu       sync.Mutex
	workers  []*supervisedWorker
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

func NewThreadManager(
	cfg ManagerConfig,
	redisDB *database.RedisDB,
	sink *database.ClickHouseSink,
	newRetry func(scope string) (*retry.DeadLetterStrategy, error),
	logger *logrus.Logger,
) *ThreadManager {
	return &ThreadManager{
		cfg:      cfg,
		redis:    redisDB,
		sink:     sink,
		logger:   logger,
		newRetry: newRetry,
		shutdown: make(chan struct{}),
	}
}

// Start spawns every worker instance and begins its supervised loop.
func (m *ThreadManager) Start(ctx context.Context) error {
	id := instanceID()

	for i := 0; i < m.cfg.WorkerCount; i++ {
		role := RoleConsumer
		if i == 0 {
			role = RoleRecovery
		}

		name := fmt.Sprintf("worker-%s-%d", id, i)
		sw, err := m.buildWorker(name, role)
		if err != nil {
			return fmt.Errorf("thread manager: build worker %s: %w", name, err)
		}

		m.mu.Lock()
		m.workers = append(m.workers, sw)
		m.mu.Unlock()

		m.wg.Add(1)
		go m.supervise(ctx, sw)
	}

	return nil
}

func (m *ThreadManager) buildWorker(name string, role Role) (*supervisedWorker, error) {
	// Each worker needs its own stable Redis consumer identity (§4.8): on
	// restart it must reclaim its own prior pending entries via XReadGroup's
	// "0" replay, which only works if the consumer name matches across
	// restarts instead of defaulting to the shared empty name.
	sc := m.cfg.StreamConfig
	sc.ConsumerName = name
	streamAdapter := streams.NewLogStreamAdapter(m.redis.Client, sc, m.logger)

	retryStrategy, err := m.newRetry(name)
	if err != nil {
		return nil, err
	}

	// The buffer's OnFlushSuccess callback must ack the flushed batch on
	// the same worker's stream adapter, but the worker isn't constructed
	// until after the buffer. The closure captures w by reference and
	// isn't invoked until the worker starts its loop, by which point w is
	// set.
	var w *IngestWorker
	buf := buffer.New(buffer.Config{
		MaxBatchSize: 100_000,
		MaxWaitTime:  1 * time.Second,
		OnFlushSuccess: func(records []*logrecord.NormalizedRecord) error {
			return w.AckFlushed(records)
		},
	}, m.sink, retryStrategy, m.logger)

	workerCfg := m.cfg.WorkerConfig
	workerCfg.Name = name
	workerCfg.Role = role

	w = NewIngestWorker(workerCfg, streamAdapter, buf, retryStrategy, m.logger)

	return &supervisedWorker{worker: w}, nil
}

// supervise runs a worker and respawns it on abnormal exit with exponential
// backoff, resetting the restart count after a clean ready signal (§4.8).
func (m *ThreadManager) supervise(ctx context.Context, sw *supervisedWorker) {
	defer m.wg.Done()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		runCtx, cancel := context.WithCancel(ctx)
		sw.mu.Lock()
		sw.cancel = cancel
		sw.mu.Unlock()

		err := sw.worker.Run(runCtx)
		cancel()

		select {
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err == nil {
			sw.mu.Lock()
			sw.restartCount = 0
			sw.mu.Unlock()
			return
		}

		sw.mu.Lock()
		sw.restartCount++
		count := sw.restartCount
		sw.mu.Unlock()

		delay := time.Duration(1000*(1<<uint(count-1))) * time.Millisecond
		if delay > m.cfg.RestartMaxDelay {
			delay = m.cfg.RestartMaxDelay
		}
		m.logger.WithError(err).WithFields(logrus.Fields{
			"worker":  sw.worker.cfg.Name,
			"attempt": count,
			"delay":   delay,
		}).Warn("worker exited abnormally, respawning")

		select {
		case <-time.After(delay):
		case <-m.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// HealthSnapshot implements §4.8's health aggregation: a round-trip health
// query to every worker, bounded by HealthTimeout.
type HealthSnapshot struct {
	TotalWorkers  int
	ActiveWorkers int
	Workers       []Health
}

func (m *ThreadManager) HealthSnapshot() HealthSnapshot {
	m.mu.Lock()
	workers := make([]*supervisedWorker, len(m.workers))
	copy(workers, m.workers)
	m.mu.Unlock()

	snapshot := HealthSnapshot{TotalWorkers: len(workers)}

	type result struct {
		h Health
	}
	resultCh := make(chan result, len(workers))
	for _, sw := range workers {
		go func(w *IngestWorker) {
			resultCh <- result{h: w.HealthCheck()}
		}(sw.worker)
	}

	timeout := time.After(m.cfg.HealthTimeout)
	for i := 0; i < len(workers); i++ {
		select {
		case r := <-resultCh:
			snapshot.Workers = append(snapshot.Workers, r.h)
			if r.h.State == StateRunning {
				snapshot.ActiveWorkers++
			}
		case <-timeout:
			return snapshot
		}
	}

	return snapshot
}

// Shutdown implements §4.8's graceful shutdown: signal every worker, await
// confirmation, and force-terminate (stop waiting) after ShutdownTimeout.
func (m *ThreadManager) Shutdown(ctx context.Context) error {
	m.once.Do(func() { close(m.shutdown) })

	m.mu.Lock()
	workers := make([]*supervisedWorker, len(m.workers))
	copy(workers, m.workers)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sw := range workers {
		wg.Add(1)
		go func(w *IngestWorker) {
			defer wg.Done()
			if err := w.Shutdown(ctx); err != nil {
				m.logger.WithError(err).Error("worker shutdown returned an error")
			}
		}(sw.worker)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.cfg.ShutdownTimeout):
		m.logger.Warn("thread manager: force-terminating after shutdown timeout")
	}

	m.wg.Wait()
	return nil
}
