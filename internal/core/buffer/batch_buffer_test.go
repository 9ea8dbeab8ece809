package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/core/domain/logrecord"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func mustRecord(t *testing.T) *logrecord.NormalizedRecord {
	t.Helper()
	rec, err := logrecord.New(logrecord.RawRecord{
		AppID: "a", Level: "info", Message: "m", Source: "api",
	})
	require.NoError(t, err)
	return rec
}

type fakePersister struct {
	mu      sync.Mutex
	err     error
	batches [][]*logrecord.NormalizedRecord
}

func (f *fakePersister) Persist(_ context.Context, records []*logrecord.NormalizedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, records)
	return nil
}

type fakeRetry struct {
	mu       sync.Mutex
	err      error
	queued   [][]*logrecord.NormalizedRecord
	shutdown bool
}

func (f *fakeRetry) QueueForRetry(_ context.Context, records []*logrecord.NormalizedRecord, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, records)
	return nil
}

func (f *fakeRetry) Shutdown(_ context.Context) error {
	f.shutdown = true
	return nil
}

func TestBatchBuffer_AddTriggersFlushAtMaxBatchSize(t *testing.T) {
	persister := &fakePersister{}
	retry := &fakeRetry{}
	var flushed int
	var mu sync.Mutex
	b := New(Config{
		MaxBatchSize: 2,
		MaxWaitTime:  time.Hour,
		OnFlushSuccess: func(records []*logrecord.NormalizedRecord) error {
			mu.Lock()
			flushed += len(records)
			mu.Unlock()
			return nil
		},
	}, persister, retry, testLogger())
	defer b.Shutdown(context.Background())

	rec := mustRecord(t)
	require.NoError(t, b.Add(context.Background(), []*logrecord.NormalizedRecord{rec, rec}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return flushed == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBatchBuffer_FlushOnFailureRoutesToRetryAndStillAcks(t *testing.T) {
	persister := &fakePersister{err: errors.New("clickhouse unavailable")}
	retry := &fakeRetry{}
	var flushed int
	b := New(Config{
		MaxBatchSize: 100,
		MaxWaitTime:  time.Hour,
		OnFlushSuccess: func(records []*logrecord.NormalizedRecord) error {
			flushed += len(records)
			return nil
		},
	}, persister, retry, testLogger())
	defer b.Shutdown(context.Background())

	rec := mustRecord(t)
	require.NoError(t, b.Add(context.Background(), []*logrecord.NormalizedRecord{rec}))

	err := b.Flush(context.Background())
	require.NoError(t, err, "DLQ hand-off succeeded, so flush must report success despite persist failure")
	assert.Equal(t, 1, flushed, "onFlushSuccess must still be invoked once the DLQ has the records")
	assert.Len(t, retry.queued, 1)
}

func TestBatchBuffer_FlushFailsWhenBothPersistAndRetryFail(t *testing.T) {
	persister := &fakePersister{err: errors.New("clickhouse unavailable")}
	retry := &fakeRetry{err: errors.New("dlq stream unavailable")}
	flushed := 0
	b := New(Config{
		MaxBatchSize: 100,
		MaxWaitTime:  time.Hour,
		OnFlushSuccess: func(records []*logrecord.NormalizedRecord) error {
			flushed += len(records)
			return nil
		},
	}, persister, retry, testLogger())
	defer b.Shutdown(context.Background())

	rec := mustRecord(t)
	require.NoError(t, b.Add(context.Background(), []*logrecord.NormalizedRecord{rec}))

	err := b.Flush(context.Background())
	require.Error(t, err, "records must not be acked when neither persist nor retry succeed")
	assert.Equal(t, 0, flushed)
}

func TestBatchBuffer_FlushIsExclusive(t *testing.T) {
	persister := &fakePersister{}
	retry := &fakeRetry{}
	b := New(Config{MaxBatchSize: 1000, MaxWaitTime: time.Hour}, persister, retry, testLogger())
	defer b.Shutdown(context.Background())

	rec := mustRecord(t)
	require.NoError(t, b.Add(context.Background(), []*logrecord.NormalizedRecord{rec}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Flush(context.Background())
		}()
	}
	wg.Wait()

	persister.mu.Lock()
	defer persister.mu.Unlock()
	assert.LessOrEqual(t, len(persister.batches), 1, "concurrent flushes must not double-persist the same buffer contents")
}

func TestBatchBuffer_AddRejectsAfterShutdown(t *testing.T) {
	b := New(Config{MaxBatchSize: 100, MaxWaitTime: time.Hour}, &fakePersister{}, &fakeRetry{}, testLogger())
	b.Shutdown(context.Background())

	err := b.Add(context.Background(), []*logrecord.NormalizedRecord{mustRecord(t)})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestBatchBuffer_ShutdownFlushesRemainingRecords(t *testing.T) {
	persister := &fakePersister{}
	retry := &fakeRetry{}
	b := New(Config{MaxBatchSize: 1000, MaxWaitTime: time.Hour}, persister, retry, testLogger())

	require.NoError(t, b.Add(context.Background(), []*logrecord.NormalizedRecord{mustRecord(t)}))
	result := b.Shutdown(context.Background())

	assert.Equal(t, 1, result.Flushed)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, retry.shutdown)
	persister.mu.Lock()
	defer persister.mu.Unlock()
	assert.Len(t, persister.batches, 1)
}

func TestBatchBuffer_GetHealthReflectsUsageAndErrorRate(t *testing.T) {
	persister := &fakePersister{err: errors.New("down")}
	retry := &fakeRetry{}
	b := New(Config{MaxBatchSize: 4, MaxWaitTime: time.Hour}, persister, retry, testLogger())
	defer b.Shutdown(context.Background())

	require.NoError(t, b.Add(context.Background(), []*logrecord.NormalizedRecord{mustRecord(t), mustRecord(t)}))
	_ = b.Flush(context.Background())

	h := b.GetHealth()
	assert.Equal(t, float64(0), h.BufferUsagePct, "the flush emptied the buffer")
	assert.Equal(t, float64(100), h.ErrorRatePct)
}
