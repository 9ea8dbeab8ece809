// Package logrecord implements the validation-routing strategy (C2) that
// sits in front of the logrecord value objects: same-thread, background, or
// parallel-chunked normalization depending on batch size.
package logrecord

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"logpipe/internal/core/domain/logrecord"
)

const (
	// StrategySameThread is used for N <= SmallThreshold; StrategyFallback
	// tags a batch re-run on the calling goroutine after the single
	// background validator failed.
	StrategySameThread = "same-thread"
	StrategyBackground = "background"
	StrategyParallel    = "parallel"
	StrategyFallback    = "same-thread-fallback"
)

// StrategyConfig controls the thresholds in §4.2's routing policy.
type StrategyConfig struct {
	// SmallThreshold: N <= this runs on the calling goroutine. Default 50.
	SmallThreshold int
	// MediumThreshold: SmallThreshold < N <= this runs on one background
	// goroutine; above it, the batch is chunked in parallel. Default 500.
	MediumThreshold int
	// MaxWorkers bounds the number of parallel chunks for very large
	// batches. Default 8.
	MaxWorkers int
}

func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		SmallThreshold:  50,
		MediumThreshold: 500,
		MaxWorkers:      8,
	}
}

// Result is validateBatch's return shape (§4.2).
type Result struct {
	Valid          []*logrecord.NormalizedRecord
	Errors         []logrecord.FieldError
	ProcessingTime time.Duration
	Throughput     float64 // records/sec
	StrategyTag    string
}

// Strategy routes batch validation across same-thread, background, and
// parallel-chunked execution based on batch size, falling back to
// same-thread on any background failure so validation never surfaces as a
// 5xx to the caller.
type Strategy struct {
	cfg    StrategyConfig
	logger *logrus.Logger

	mu          sync.Mutex
	byStrategy  map[string]int64
	batchesRun  int64
	recordsRun  int64
}

func NewStrategy(cfg StrategyConfig, logger *logrus.Logger) *Strategy {
	if cfg.SmallThreshold <= 0 {
		cfg.SmallThreshold = 50
	}
	if cfg.MediumThreshold <= 0 {
		cfg.MediumThreshold = 500
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	return &Strategy{
		cfg:        cfg,
		logger:     logger,
		byStrategy: make(map[string]int64),
	}
}

// ValidateBatch implements §4.2's validateBatch contract.
func (s *Strategy) ValidateBatch(raw []logrecord.RawRecord) Result {
	start := time.Now()
	n := len(raw)

	var valid []*logrecord.NormalizedRecord
	var errs []logrecord.FieldError
	var tag string

	switch {
	case n <= s.cfg.SmallThreshold:
		tag = StrategySameThread
		valid, errs = logrecord.BatchNormalize(raw)

	case n <= s.cfg.MediumThreshold:
		tag = StrategyBackground
		var ok bool
		valid, errs, ok = s.runBackground(raw)
		if !ok {
			tag = StrategyFallback
			valid, errs = logrecord.BatchNormalize(raw)
		}

	default:
		tag = StrategyParallel
		valid, errs = s.runParallel(raw)
	}

	elapsed := time.Since(start)
	s.record(tag, n)

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(n) / elapsed.Seconds()
	}

	return Result{
		Valid:          valid,
		Errors:         errs,
		ProcessingTime: elapsed,
		Throughput:     throughput,
		StrategyTag:    tag,
	}
}

// runBackground offloads normalization to a single goroutine. A panic in the
// goroutine is recovered and reported as ok=false, so the caller falls back
// to same-thread validation rather than propagating the panic.
func (s *Strategy) runBackground(raw []logrecord.RawRecord) (valid []*logrecord.NormalizedRecord, errs []logrecord.FieldError, ok bool) {
	type outcome struct {
		valid []*logrecord.NormalizedRecord
		errs  []logrecord.FieldError
		ok    bool
	}
	resultCh := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithField("panic", r).Error("background validator panicked, falling back to same-thread")
				resultCh <- outcome{ok: false}
			}
		}()
		v, e := logrecord.BatchNormalize(raw)
		resultCh <- outcome{valid: v, errs: e, ok: true}
	}()

	res := <-resultCh
	return res.valid, res.errs, res.ok
}

// runParallel splits raw into min(ceil(N/MediumThreshold), MaxWorkers)
// equal-ish chunks, validates each concurrently, and concatenates results in
// chunk order so output order matches input order. If any chunk's goroutine
// panics, the whole batch is re-validated on the calling goroutine (the
// result keeps the parallel tag).
func (s *Strategy) runParallel(raw []logrecord.RawRecord) ([]*logrecord.NormalizedRecord, []logrecord.FieldError) {
	n := len(raw)
	numChunks := (n + s.cfg.MediumThreshold - 1) / s.cfg.MediumThreshold
	if numChunks > s.cfg.MaxWorkers {
		numChunks = s.cfg.MaxWorkers
	}
	if numChunks < 1 {
		numChunks = 1
	}

	chunkSize := (n + numChunks - 1) / numChunks

	type chunkResult struct {
		valid []*logrecord.NormalizedRecord
		errs  []logrecord.FieldError
	}
	results := make([]chunkResult, numChunks)
	failed := make([]bool, numChunks)

	var wg sync.WaitGroup
	for c := 0; c < numChunks; c++ {
		lo := c * chunkSize
		hi := lo + chunkSize
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}

		wg.Add(1)
		go func(idx, offset int, slice []logrecord.RawRecord) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.WithField("panic", r).Error("parallel validator panicked, falling back to same-thread")
					failed[idx] = true
				}
			}()
			v, e := logrecord.BatchNormalize(slice)
			for i := range e {
				e[i].Index += offset
			}
			results[idx] = chunkResult{valid: v, errs: e}
		}(c, lo, raw[lo:hi])
	}
	wg.Wait()

	for _, f := range failed {
		if f {
			return logrecord.BatchNormalize(raw)
		}
	}

	valid := make([]*logrecord.NormalizedRecord, 0, n)
	var errs []logrecord.FieldError
	for _, r := range results {
		valid = append(valid, r.valid...)
		errs = append(errs, r.errs...)
	}
	return valid, errs
}

func (s *Strategy) record(tag string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStrategy[tag]++
	s.batchesRun++
	s.recordsRun += int64(n)
}

// Stats is the shape returned by getStats() (§4.2).
type Stats struct {
	BatchesProcessed int64
	RecordsProcessed int64
	ByStrategy       map[string]int64
}

func (s *Strategy) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]int64, len(s.byStrategy))
	for k, v := range s.byStrategy {
		cp[k] = v
	}
	return Stats{
		BatchesProcessed: s.batchesRun,
		RecordsProcessed: s.recordsRun,
		ByStrategy:       cp,
	}
}

// HealthCheck reports whether the strategy can still accept work. It has no
// external dependency to probe, so it is always healthy; the method exists
// to satisfy the §4.2 contract and give worker health aggregation (C8) a
// uniform shape to call across components.
func (s *Strategy) HealthCheck() error {
	return nil
}
