// Package coalescer implements the request coalescer (C9, §4.9): many
// concurrent single-item calls are merged into fewer calls to an underlying
// processor over a short time window. The double-buffer (ping-pong) swap on
// flush is grounded on
// _examples/joeycumines-go-utilpkg/microbatch/microbatch.go's Batcher,
// reimplemented here as an owned component (not a go.mod dependency) with
// the exact operation set §4.9 names: add, flush, forceFlush, setEnabled,
// updateConfig, shutdown.
package coalescer

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrShutdown is returned by Add once the coalescer has shut down.
var ErrShutdown = errors.New("coalescer: shut down, no longer accepting items")

// Processor runs a batch of items and must return exactly one result per
// item, in the same order (§4.9 "results are returned in input order").
type Processor[T any, R any] func(ctx context.Context, items []T) ([]R, error)

// Config controls batching behavior (§4.9).
type Config struct {
	Enabled      bool
	MaxBatchSize int
	MaxWaitTime  time.Duration
}

type pending[T any, R any] struct {
	item   T
	result chan outcome[R]
}

type outcome[R any] struct {
	value R
	err   error
}

// Coalescer implements C9. Two fixed pending-slice buffers (active/reserve)
// swap on flush instead of allocating a new slice per window, the same
// allocation-avoidance the reference Batcher relies on.
type Coalescer[T any, R any] struct {
	processor Processor[T, R]

	mu      sync.Mutex
	cfg     Config
	active  []*pending[T, R]
	reserve []*pending[T, R]

	timer      *time.Timer
	timerFiring bool

	flushWg  sync.WaitGroup
	shutdown bool
}

func New[T any, R any](cfg Config, processor Processor[T, R]) *Coalescer[T, R] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}
	if cfg.MaxWaitTime <= 0 {
		cfg.MaxWaitTime = 10 * time.Millisecond
	}
	return &Coalescer[T, R]{
		processor: processor,
		cfg:       cfg,
		active:    make([]*pending[T, R], 0, cfg.MaxBatchSize),
		reserve:   make([]*pending[T, R], 0, cfg.MaxBatchSize),
	}
}

// Add implements §4.9's add(item). When coalescing is disabled it calls the
// processor directly with a single-item batch (passthrough); otherwise it
// enqueues and waits for the window it joined to flush.
func (c *Coalescer[T, R]) Add(ctx context.Context, item T) (R, error) {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		var zero R
		return zero, ErrShutdown
	}
	if !c.cfg.Enabled {
		c.mu.Unlock()
		results, err := c.processor(ctx, []T{item})
		var zero R
		if err != nil {
			return zero, err
		}
		if len(results) == 0 {
			return zero, errors.New("coalescer: processor returned no result for single item")
		}
		return results[0], nil
	}

	p := &pending[T, R]{item: item, result: make(chan outcome[R], 1)}
	c.active = append(c.active, p)

	shouldFlush := len(c.active) >= c.cfg.MaxBatchSize
	if !shouldFlush && len(c.active) == 1 {
		c.armTimer()
	}
	c.mu.Unlock()

	if shouldFlush {
		go c.Flush(context.Background())
	}

	select {
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	case res := <-p.result:
		return res.value, res.err
	}
}

// armTimer schedules a flush maxWaitTime after the first enqueue of the
// current window (§4.9 "schedules a flush ... from the first enqueue").
// Caller must hold c.mu.
func (c *Coalescer[T, R]) armTimer() {
	if c.timerFiring {
		return
	}
	c.timerFiring = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.MaxWaitTime, func() {
		c.mu.Lock()
		c.timerFiring = false
		c.mu.Unlock()
		c.Flush(context.Background())
	})
}

// Flush implements §4.9's flush(): swaps active for reserve (ping-pong),
// invokes the processor, and resolves every waiter positionally. A
// processor error rejects every waiter in the batch with that same error.
func (c *Coalescer[T, R]) Flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.active) == 0 {
		c.mu.Unlock()
		return
	}
	toFlush := c.active
	c.active = c.reserve[:0]
	c.reserve = toFlush
	// A window flushed by size leaves its timer armed; stop it so the next
	// window arms its own timer on its first enqueue.
	if c.timer != nil && c.timer.Stop() {
		c.timerFiring = false
	}
	c.mu.Unlock()

	c.flushWg.Add(1)
	defer c.flushWg.Done()

	items := make([]T, len(toFlush))
	for i, p := range toFlush {
		items[i] = p.item
	}

	results, err := c.processor(ctx, items)
	if err != nil {
		for _, p := range toFlush {
			p.result <- outcome[R]{err: err}
		}
		return
	}

	for i, p := range toFlush {
		if i < len(results) {
			p.result <- outcome[R]{value: results[i]}
		} else {
			p.result <- outcome[R]{err: errors.New("coalescer: processor returned fewer results than items")}
		}
	}
}

// ForceFlush flushes the current window immediately regardless of size or
// timer state.
func (c *Coalescer[T, R]) ForceFlush(ctx context.Context) {
	c.Flush(ctx)
}

// SetEnabled toggles coalescing at runtime (§4.9).
func (c *Coalescer[T, R]) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Enabled = enabled
}

// UpdateConfig replaces the batch size / wait time. A new wait time applies
// from the next timer armed; a new batch size applies from the next Add,
// including to a window already pending.
func (c *Coalescer[T, R]) UpdateConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg.MaxBatchSize > 0 {
		c.cfg.MaxBatchSize = cfg.MaxBatchSize
	}
	if cfg.MaxWaitTime > 0 {
		c.cfg.MaxWaitTime = cfg.MaxWaitTime
	}
}

// Shutdown implements §4.9's shutdown(timeoutMs=5000): disables the
// coalescer, flushes whatever is pending, then waits for any active flush
// up to timeout.
func (c *Coalescer[T, R]) Shutdown(ctx context.Context, timeout time.Duration) error {
	c.mu.Lock()
	c.shutdown = true
	c.cfg.Enabled = false
	c.mu.Unlock()

	c.Flush(ctx)

	done := make(chan struct{})
	go func() {
		c.flushWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("coalescer: shutdown timed out waiting for in-flight flush")
	}
}
