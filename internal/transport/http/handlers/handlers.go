package handlers

import (
	"context"

	"logpipe/internal/ingress/coalescer"
	"logpipe/internal/infrastructure/idempotency"
	logrecordsvc "logpipe/internal/services/logrecord"
)

// Handlers aggregates every handler the server wires into routes.
type Handlers struct {
	Ingest     *IngestHandler
	Stream     *StreamHealthHandler
	Health     *HealthHandler
	Metrics    *MetricsHandler
	Idem       *idempotency.Middleware
	coalescer  *coalescer.Coalescer[[]byte, logrecordsvc.Result]
}

func NewHandlers(
	ingest *IngestHandler,
	stream *StreamHealthHandler,
	batchCoalescer *coalescer.Coalescer[[]byte, logrecordsvc.Result],
	idem *idempotency.Middleware,
	health *HealthHandler,
) *Handlers {
	return &Handlers{
		Ingest:    ingest,
		Stream:    stream,
		Health:    health,
		Metrics:   NewMetricsHandler(),
		Idem:      idem,
		coalescer: batchCoalescer,
	}
}

// Coalesce adapts the Coalescer's Add method to the
// func(ctx, body) (Result, error) shape IngestHandler.HandleCoalesced
// expects.
func (h *Handlers) Coalesce(ctx context.Context, body []byte) (logrecordsvc.Result, error) {
	return h.coalescer.Add(ctx, body)
}
