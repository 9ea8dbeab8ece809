package streams

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("logs:stream", "logs-workers", "worker-1")
	assert.Equal(t, "logs:stream", cfg.StreamName)
	assert.Equal(t, "logs-workers", cfg.ConsumerGroup)
	assert.Equal(t, "worker-1", cfg.ConsumerName)
	assert.Greater(t, cfg.ClaimMinIdle.Milliseconds(), int64(0))
	assert.Greater(t, cfg.MaxLen, int64(0))
}

func TestToMessages_ExtractsDataField(t *testing.T) {
	streams := []redis.XStream{
		{
			Stream: "logs:stream",
			Messages: []redis.XMessage{
				{ID: "1-0", Values: map[string]interface{}{"data": `{"app_id":"a"}`}},
				{ID: "2-0", Values: map[string]interface{}{"data": `{"app_id":"b"}`}},
			},
		},
	}

	msgs := toMessages(streams)
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, `{"app_id":"a"}`, string(msgs[0].Data))
	assert.Equal(t, "2-0", msgs[1].ID)
}

func TestToMessages_MissingDataFieldYieldsEmptyPayload(t *testing.T) {
	streams := []redis.XStream{
		{
			Stream: "logs:stream",
			Messages: []redis.XMessage{
				{ID: "1-0", Values: map[string]interface{}{"other": "x"}},
			},
		},
	}

	msgs := toMessages(streams)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Nil(t, msgs[0].Data)
}

func TestToMessages_PreservesOrderAcrossMultipleEntries(t *testing.T) {
	streams := []redis.XStream{
		{
			Stream: "logs:stream",
			Messages: []redis.XMessage{
				{ID: "1-0", Values: map[string]interface{}{"data": "a"}},
				{ID: "1-1", Values: map[string]interface{}{"data": "b"}},
				{ID: "1-2", Values: map[string]interface{}{"data": "c"}},
			},
		},
	}

	msgs := toMessages(streams)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"1-0", "1-1", "1-2"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}
