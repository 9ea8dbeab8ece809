package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/ingress/coalescer"
	logrecordsvc "logpipe/internal/services/logrecord"
)

func TestHandlers_Coalesce_DelegatesToCoalescer(t *testing.T) {
	processor := func(ctx context.Context, bodies [][]byte) ([]logrecordsvc.Result, error) {
		results := make([]logrecordsvc.Result, len(bodies))
		for i := range bodies {
			results[i] = logrecordsvc.Result{StrategyTag: "small"}
		}
		return results, nil
	}

	c := coalescer.New(coalescer.Config{MaxBatchSize: 10, MaxWaitTime: 5 * time.Millisecond}, processor)
	defer c.Shutdown(context.Background(), time.Second)

	h := &Handlers{coalescer: c}

	result, err := h.Coalesce(context.Background(), []byte(`{"app_id":"svc-a"}`))
	require.NoError(t, err)
	assert.Equal(t, "small", result.StrategyTag)
}
