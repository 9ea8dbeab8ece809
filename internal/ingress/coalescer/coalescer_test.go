package coalescer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doubleProcessor(callCount *int64) Processor[int, int] {
	return func(_ context.Context, items []int) ([]int, error) {
		atomic.AddInt64(callCount, 1)
		out := make([]int, len(items))
		for i, v := range items {
			out[i] = v * 2
		}
		return out, nil
	}
}

func TestAdd_DisabledIsPassthrough(t *testing.T) {
	var calls int64
	c := New(Config{Enabled: false}, doubleProcessor(&calls))

	result, err := c.Add(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 10, result)
	assert.Equal(t, int64(1), calls)
}

func TestAdd_FlushesAtMaxBatchSize(t *testing.T) {
	var calls int64
	c := New(Config{Enabled: true, MaxBatchSize: 3, MaxWaitTime: time.Hour}, doubleProcessor(&calls))

	var wg sync.WaitGroup
	results := make([]int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.Add(context.Background(), idx+1)
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{2, 4, 6}, results)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestAdd_FlushesOnTimerWhenBelowMaxBatchSize(t *testing.T) {
	var calls int64
	c := New(Config{Enabled: true, MaxBatchSize: 100, MaxWaitTime: 10 * time.Millisecond}, doubleProcessor(&calls))

	result, err := c.Add(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 14, result)
}

func TestAdd_PreservesInputOrderAcrossWaiters(t *testing.T) {
	var calls int64
	c := New(Config{Enabled: true, MaxBatchSize: 5, MaxWaitTime: time.Hour}, doubleProcessor(&calls))

	results := make([]int, 5)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.Add(context.Background(), idx)
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		assert.Equal(t, i*2, v, "waiter %d must receive its positionally-correct result", i)
	}
}

func TestFlush_ProcessorErrorRejectsEveryWaiter(t *testing.T) {
	processor := func(_ context.Context, items []int) ([]int, error) {
		return nil, errors.New("downstream failure")
	}
	c := New(Config{Enabled: true, MaxBatchSize: 3, MaxWaitTime: time.Hour}, processor)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := c.Add(context.Background(), idx)
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.Contains(t, err.Error(), "downstream failure")
	}
}

func TestSetEnabled_SwitchesToPassthrough(t *testing.T) {
	var calls int64
	c := New(Config{Enabled: true, MaxBatchSize: 100, MaxWaitTime: time.Hour}, doubleProcessor(&calls))
	c.SetEnabled(false)

	result, err := c.Add(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, 18, result)
}

func TestShutdown_FlushesPendingAndRejectsFurtherAdds(t *testing.T) {
	var calls int64
	c := New(Config{Enabled: true, MaxBatchSize: 100, MaxWaitTime: time.Hour}, doubleProcessor(&calls))

	var wg sync.WaitGroup
	wg.Add(1)
	var addErr error
	var addResult int
	go func() {
		defer wg.Done()
		addResult, addErr = c.Add(context.Background(), 3)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Shutdown(context.Background(), time.Second))
	wg.Wait()

	require.NoError(t, addErr)
	assert.Equal(t, 6, addResult)

	_, err := c.Add(context.Background(), 1)
	assert.ErrorIs(t, err, ErrShutdown)
}
