// Package handlers implements the HTTP handlers for the ingestion surface
// (§6): POST /v1/logs accepts a single record or a batch, validates and
// coalesces it onto the stream, and the worker health stream pushes
// ThreadManager snapshots over a websocket.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"logpipe/internal/core/domain/logrecord"
	logrecordsvc "logpipe/internal/services/logrecord"
	"logpipe/internal/infrastructure/streams"
	"logpipe/pkg/response"
)

// ValidationError is the wire shape for one rejected record in the
// /v1/logs 400 response (§6).
type ValidationError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// IngestStats is the wire shape of /v1/logs's 202 response body (§6).
type IngestStats struct {
	Accepted           int     `json:"accepted"`
	Rejected           int     `json:"rejected"`
	Throughput         float64 `json:"throughput"`
	ValidationStrategy string  `json:"validationStrategy"`
}

// IngestHandler implements the ingest path: decode, validate (C2), publish
// onto the stream (C3). The server routes every request through
// HandleCoalesced and the request coalescer (C9), which calls
// ProcessCoalesced; when coalescing is disabled the coalescer passes each
// body straight through to ProcessCoalesced.
type IngestHandler struct {
	strategy *logrecordsvc.Strategy
	stream   *streams.LogStreamAdapter
	logger   *logrus.Logger
}

func NewIngestHandler(stream *streams.LogStreamAdapter, logger *logrus.Logger) *IngestHandler {
	return &IngestHandler{
		strategy: logrecordsvc.NewStrategy(logrecordsvc.DefaultStrategyConfig(), logger),
		stream:   stream,
		logger:   logger,
	}
}

// decodeBody accepts either a single JSON object or a JSON array of raw
// records, per §6's "accepts single record or array" contract.
func decodeBody(body io.Reader) ([]logrecord.RawRecord, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var batch []logrecord.RawRecord
	if err := json.Unmarshal(data, &batch); err == nil {
		return batch, nil
	}

	var single logrecord.RawRecord
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []logrecord.RawRecord{single}, nil
}

// Handle implements POST /v1/logs directly, bypassing the coalescer. The
// server does not route to it: with IdempotencyConfig.CoalesceEnabled=false,
// requests still go through HandleCoalesced in passthrough mode.
func (h *IngestHandler) Handle(c *gin.Context) {
	raw, err := decodeBody(c.Request.Body)
	if err != nil {
		response.BadRequest(c, "invalid JSON body", err.Error())
		return
	}

	result := h.strategy.ValidateBatch(raw)
	if err := h.publish(c.Request.Context(), result.Valid); err != nil {
		response.ErrorWithStatus(c, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "failed to publish to ingestion stream", err.Error())
		return
	}

	h.respond(c, result)
}

// HandleCoalesced implements POST /v1/logs when the request coalescer is
// enabled: the raw body is handed to the coalescer, which batches it with
// concurrent requests before calling ProcessCoalesced once per window.
func (h *IngestHandler) HandleCoalesced(coalesce func(ctx context.Context, body []byte) (logrecordsvc.Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.BadRequest(c, "failed to read request body", err.Error())
			return
		}

		result, err := coalesce(c.Request.Context(), data)
		if err != nil {
			response.ErrorWithStatus(c, http.StatusServiceUnavailable, "STREAM_UNAVAILABLE", "failed to publish to ingestion stream", err.Error())
			return
		}

		h.respond(c, result)
	}
}

// ProcessCoalesced is the coalescer.Processor[[]byte, logrecordsvc.Result]
// wired in by the server: it validates and publishes every request body in
// the window, returning one Result per request in input order.
func (h *IngestHandler) ProcessCoalesced(ctx context.Context, bodies [][]byte) ([]logrecordsvc.Result, error) {
	results := make([]logrecordsvc.Result, len(bodies))

	for i, body := range bodies {
		raw, err := decodeBody(bytes.NewReader(body))
		if err != nil {
			results[i] = logrecordsvc.Result{
				Errors: []logrecord.FieldError{{Index: 0, Field: "", Reason: "invalid JSON body: " + err.Error()}},
			}
			continue
		}

		result := h.strategy.ValidateBatch(raw)
		if err := h.publish(ctx, result.Valid); err != nil {
			return nil, err
		}
		results[i] = result
	}

	return results, nil
}

func (h *IngestHandler) publish(ctx context.Context, records []*logrecord.NormalizedRecord) error {
	for _, rec := range records {
		data, err := json.Marshal(rec.ToRaw())
		if err != nil {
			return err
		}
		if _, err := h.stream.Publish(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (h *IngestHandler) respond(c *gin.Context, result logrecordsvc.Result) {
	stats := IngestStats{
		Accepted:           len(result.Valid),
		Rejected:           len(result.Errors),
		Throughput:         result.Throughput,
		ValidationStrategy: result.StrategyTag,
	}

	if len(result.Errors) == 0 {
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"message": "accepted",
			"stats":   stats,
		})
		return
	}

	errs := make([]ValidationError, len(result.Errors))
	for i, e := range result.Errors {
		errs[i] = ValidationError{Index: e.Index, Error: e.Reason}
	}

	if len(result.Valid) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "errors": errs})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "accepted",
		"stats":   stats,
		"errors":  errs,
	})
}
