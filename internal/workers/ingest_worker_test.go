package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"logpipe/internal/core/domain/logrecord"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "spawning", StateSpawning.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "error", StateError.String())
}

func TestDefaultConfig_SetsRoleAndName(t *testing.T) {
	cfg := DefaultConfig("worker-host-0", RoleConsumer)
	assert.Equal(t, "worker-host-0", cfg.Name)
	assert.Equal(t, RoleConsumer, cfg.Role)
	assert.Greater(t, cfg.BatchSize, int64(0))
	assert.Greater(t, cfg.RetryQueueLimit, int64(0))
}

func TestIngestWorker_HealthCheckReflectsInitialState(t *testing.T) {
	w := &IngestWorker{cfg: Config{Name: "w-0", Role: RoleRecovery}}
	w.state.Store(int32(StateSpawning))
	w.lastErr.Store("")

	h := w.HealthCheck()
	assert.Equal(t, "w-0", h.Name)
	assert.Equal(t, RoleRecovery, h.Role)
	assert.Equal(t, StateSpawning, h.State)
	assert.Empty(t, h.LastError)
}

func TestIngestWorker_SetErrorTransitionsToErrorState(t *testing.T) {
	w := &IngestWorker{}
	w.setError(assertError("boom"))

	h := w.HealthCheck()
	assert.Equal(t, StateError, h.State)
	assert.Equal(t, "boom", h.LastError)
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestNormalizedRecord_StreamMessageIDEmptyUntilAttached(t *testing.T) {
	rec, err := logrecord.New(logrecord.RawRecord{AppID: "a", Level: "info", Message: "m", Source: "api"})
	assert.NoError(t, err)
	assert.Empty(t, rec.StreamMessageID())

	withID := rec.WithStreamMessageID("1-0")
	assert.Equal(t, "1-0", withID.StreamMessageID())
}
