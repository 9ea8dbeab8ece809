package database

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"logpipe/internal/core/domain/logrecord"
)

// LogsTable is the ClickHouse table the persistence adapter writes to
// (§6 "Columnar store contract").
const LogsTable = "logs"

// HealthStatus is healthCheck()'s return shape (§4.6).
type HealthStatus struct {
	Healthy      bool
	Timestamp    time.Time
	Latency      time.Duration
	PingLatency  time.Duration
	Version      string
	Error        string
}

// ClickHouseSink implements C6's save()/healthCheck() over a ClickHouseDB
// connection, using the native client's batch API for bulk insert instead of
// building an INSERT statement by hand.
type ClickHouseSink struct {
	db     *ClickHouseDB
	logger *logrus.Logger
}

func NewClickHouseSink(db *ClickHouseDB, logger *logrus.Logger) *ClickHouseSink {
	return &ClickHouseSink{db: db, logger: logger}
}

// Persist implements C4's Persister interface and §4.6's save(): one row per
// normalized record, with server-default id/timestamp filled in here since
// the normalized record itself carries neither.
func (s *ClickHouseSink) Persist(ctx context.Context, records []*logrecord.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.db.Conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, timestamp, app_id, level, message, source, environment, metadata, trace_id, user_id)",
		LogsTable,
	))
	if err != nil {
		return fmt.Errorf("database: prepare batch: %w", err)
	}

	now := time.Now()
	for _, rec := range records {
		metadataJSON, err := rec.MetadataJSON()
		if err != nil {
			return fmt.Errorf("database: serialize metadata: %w", err)
		}

		if err := batch.Append(
			ulid.Make().String(),
			now,
			rec.AppID(),
			string(rec.Level()),
			rec.Message(),
			rec.Source(),
			rec.Environment(),
			string(metadataJSON),
			rec.TraceID(),
			rec.UserID(),
		); err != nil {
			return fmt.Errorf("database: append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		// Transport errors are raised to the caller; the adapter never
		// retries internally (§4.6) — that is the buffer+strategy's job.
		return fmt.Errorf("database: send batch: %w", err)
	}

	s.logger.WithField("rows", len(records)).Debug("persisted batch to clickhouse")
	return nil
}

// HealthCheck implements §4.6's healthCheck(): a fast ping plus a trivial
// schema probe ("SELECT 1"), both timed independently.
func (s *ClickHouseSink) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{Timestamp: time.Now()}

	pingStart := time.Now()
	if err := s.db.Conn.Ping(ctx); err != nil {
		status.PingLatency = time.Since(pingStart)
		status.Error = err.Error()
		return status
	}
	status.PingLatency = time.Since(pingStart)

	probeStart := time.Now()
	row := s.db.Conn.QueryRow(ctx, "SELECT 1")
	var one uint8
	if err := row.Scan(&one); err != nil {
		status.Latency = time.Since(probeStart)
		status.Error = err.Error()
		return status
	}
	status.Latency = time.Since(probeStart)

	if v, err := s.db.Conn.ServerVersion(); err == nil && v != nil {
		status.Version = v.String()
	}

	status.Healthy = true
	return status
}
