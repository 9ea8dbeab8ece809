package workers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceID_PrefersWorkerInstanceIDEnvVar(t *testing.T) {
	old := os.Getenv("WORKER_INSTANCE_ID")
	defer os.Setenv("WORKER_INSTANCE_ID", old)

	os.Setenv("WORKER_INSTANCE_ID", "fixed-instance")
	assert.Equal(t, "fixed-instance", instanceID())
}

func TestInstanceID_FallsBackToHostnameWhenUnset(t *testing.T) {
	old := os.Getenv("WORKER_INSTANCE_ID")
	defer os.Setenv("WORKER_INSTANCE_ID", old)

	os.Unsetenv("WORKER_INSTANCE_ID")
	host, err := os.Hostname()
	assert.NoError(t, err)
	assert.Equal(t, host, instanceID())
}

func TestDefaultManagerConfig_AssignsWorkerCountAndDefaults(t *testing.T) {
	cfg := DefaultManagerConfig(4)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Greater(t, cfg.RestartBaseDelay.Milliseconds(), int64(0))
	assert.Greater(t, cfg.RestartMaxDelay.Milliseconds(), cfg.RestartBaseDelay.Milliseconds())
}

func TestHealthSnapshot_EmptyPoolReportsZeroWorkers(t *testing.T) {
	m := &ThreadManager{cfg: DefaultManagerConfig(0), shutdown: make(chan struct{})}
	snapshot := m.HealthSnapshot()
	assert.Equal(t, 0, snapshot.TotalWorkers)
	assert.Equal(t, 0, snapshot.ActiveWorkers)
}
