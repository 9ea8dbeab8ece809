// Package streams adapts the Redis Streams consumer-group primitives to the
// stream queue adapter contract (C3, §4.3): group creation, blocking reads,
// pending-entry recovery via auto-claim, and acknowledgment.
package streams

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Message is a single stream entry: a broker-assigned id and its raw JSON
// payload (§3 "Stream message").
type Message struct {
	ID   string
	Data []byte
}

// PendingInfo is the shape returned by getPendingInfo (§4.3).
type PendingInfo struct {
	Count     int64
	Consumers []PendingConsumer
}

type PendingConsumer struct {
	Name  string
	Count int64
}

// ErrMalformedPayload is not returned by any adapter method. A malformed
// entry (no string `data` field) reaches the caller as a Message with nil
// Data, and the caller is responsible for acking it to drain it (§4.3).
var ErrMalformedPayload = errors.New("streams: malformed message payload")

// Config configures a LogStreamAdapter.
type Config struct {
	StreamName    string
	ConsumerGroup string
	ConsumerName  string
	// ClaimMinIdle is the idle threshold above which recoverPendingMessages
	// will claim an entry from another consumer (§4.3, §5 "claimMinIdleMs").
	ClaimMinIdle time.Duration
	// MaxLen bounds the stream with an approximate XADD MAXLEN trim, the
	// same pattern the teacher uses for its DLQ stream.
	MaxLen int64
}

func DefaultConfig(streamName, group, consumer string) Config {
	return Config{
		StreamName:    streamName,
		ConsumerGroup: group,
		ConsumerName:  consumer,
		ClaimMinIdle:  30 * time.Second,
		MaxLen:        1_000_000,
	}
}

// LogStreamAdapter implements the C3 contract over a Redis Streams consumer
// group, the way internal/infrastructure/streams/telemetry_stream.go and
// internal/workers/telemetry_stream_consumer.go do it for telemetry batches.
type LogStreamAdapter struct {
	redis  *redis.Client
	cfg    Config
	logger *logrus.Logger
}

func NewLogStreamAdapter(client *redis.Client, cfg Config, logger *logrus.Logger) *LogStreamAdapter {
	return &LogStreamAdapter{redis: client, cfg: cfg, logger: logger}
}

// Initialize ensures the consumer group exists on the stream, tolerating
// "already exists" so repeated calls (one per worker at startup) are safe.
func (a *LogStreamAdapter) Initialize(ctx context.Context) error {
	err := a.redis.XGroupCreateMkStream(ctx, a.cfg.StreamName, a.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("streams: create consumer group: %w", err)
	}
	return nil
}

// Publish appends a normalized record's serialized form to the stream. It is
// the ingress-side half of the adapter, matching
// TelemetryStreamProducer.PublishBatch's XAdd shape (one `data` field per
// §6: "Each stream message carries a single data field").
func (a *LogStreamAdapter) Publish(ctx context.Context, data []byte) (string, error) {
	id, err := a.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: a.cfg.StreamName,
		MaxLen: a.cfg.MaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("streams: publish: %w", err)
	}
	return id, nil
}

// Read performs a consumer-group blocking read of new entries (">" id),
// returning immediately if entries are already available and never blocking
// longer than blockMs (§4.3).
func (a *LogStreamAdapter) Read(ctx context.Context, batchSize int64, blockMs int) ([]Message, error) {
	res, err := a.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    a.cfg.ConsumerGroup,
		Consumer: a.cfg.ConsumerName,
		Streams:  []string{a.cfg.StreamName, ">"},
		Count:    batchSize,
		Block:    time.Duration(blockMs) * time.Millisecond,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("streams: read: %w", err)
	}
	return toMessages(res), nil
}

// ReadPending drains this consumer's own pending-entry list starting at
// startID, used once at worker startup so a restarted consumer reclaims the
// entries it held before crashing (§4.7 "graceful restart").
func (a *LogStreamAdapter) ReadPending(ctx context.Context, batchSize int64, startID string) ([]Message, error) {
	res, err := a.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    a.cfg.ConsumerGroup,
		Consumer: a.cfg.ConsumerName,
		Streams:  []string{a.cfg.StreamName, startID},
		Count:    batchSize,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("streams: read pending: %w", err)
	}
	return toMessages(res), nil
}

// RecoverPendingMessages auto-claims entries idle for at least ClaimMinIdle
// from any consumer in the group, transferring ownership to this consumer
// without duplicating them (§4.3, GLOSSARY "Auto-claim"). Reserved for the
// recovery worker (§4.7).
func (a *LogStreamAdapter) RecoverPendingMessages(ctx context.Context, batchSize int64) ([]Message, error) {
	entries, _, err := a.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   a.cfg.StreamName,
		Group:    a.cfg.ConsumerGroup,
		Consumer: a.cfg.ConsumerName,
		MinIdle:  a.cfg.ClaimMinIdle,
		Start:    "0-0",
		Count:    batchSize,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("streams: auto-claim: %w", err)
	}
	return toMessages([]redis.XStream{{Stream: a.cfg.StreamName, Messages: entries}}), nil
}

// Ack acknowledges a set of message ids, removing them from this consumer's
// pending-entry list. Acking ids that are already acked is a no-op
// (idempotent), so ack callbacks never need to track what they've already
// acked.
func (a *LogStreamAdapter) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := a.redis.XAck(ctx, a.cfg.StreamName, a.cfg.ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("streams: ack: %w", err)
	}
	return nil
}

// Shutdown releases nothing and does not interrupt in-flight reads; the
// redis.Client itself is owned by the caller and closed separately, matching
// how the teacher's ClickHouseDB/RedisDB wrappers separate connection
// lifecycle from adapter lifecycle.
func (a *LogStreamAdapter) Shutdown(ctx context.Context) error {
	return nil
}

// GetPendingInfo reports the consumer group's pending-entry list depth and
// per-consumer breakdown, for worker health aggregation (§4.3, §4.8).
func (a *LogStreamAdapter) GetPendingInfo(ctx context.Context) (PendingInfo, error) {
	summary, err := a.redis.XPending(ctx, a.cfg.StreamName, a.cfg.ConsumerGroup).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingInfo{}, nil
		}
		return PendingInfo{}, fmt.Errorf("streams: pending info: %w", err)
	}

	info := PendingInfo{Count: summary.Count}
	for name, count := range summary.Consumers {
		info.Consumers = append(info.Consumers, PendingConsumer{Name: name, Count: count})
	}
	return info, nil
}

func toMessages(streams []redis.XStream) []Message {
	var out []Message
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			raw, ok := entry.Values["data"]
			if !ok {
				out = append(out, Message{ID: entry.ID})
				continue
			}
			switch v := raw.(type) {
			case string:
				out = append(out, Message{ID: entry.ID, Data: []byte(v)})
			default:
				out = append(out, Message{ID: entry.ID})
			}
		}
	}
	return out
}
