package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfig_Validate_RejectsInvalidPort(t *testing.T) {
	sc := &ServerConfig{Host: "0.0.0.0", Port: 0, ReadTimeout: time.Second, WriteTimeout: time.Second, MaxRequestSize: 1024}
	assert.Error(t, sc.Validate())

	sc.Port = 8080
	assert.NoError(t, sc.Validate())
}

func TestServerConfig_Validate_RejectsEmptyHost(t *testing.T) {
	sc := &ServerConfig{Port: 8080, ReadTimeout: time.Second, WriteTimeout: time.Second, MaxRequestSize: 1024}
	assert.Error(t, sc.Validate())
}

func TestClickHouseConfig_Validate_URLTakesPrecedence(t *testing.T) {
	cc := &ClickHouseConfig{URL: "clickhouse://localhost:9000/default"}
	require.NoError(t, cc.Validate())
}

func TestClickHouseConfig_Validate_RequiresHostWithoutURL(t *testing.T) {
	cc := &ClickHouseConfig{Port: 9000, Database: "default"}
	assert.Error(t, cc.Validate())

	cc.Host = "localhost"
	assert.NoError(t, cc.Validate())
}

func TestRedisConfig_Validate_RejectsOutOfRangeDatabase(t *testing.T) {
	rc := &RedisConfig{Host: "localhost", Port: 6379, Database: 16}
	assert.Error(t, rc.Validate())

	rc.Database = 0
	assert.NoError(t, rc.Validate())
}

func TestLoggingConfig_Validate_RejectsUnknownLevel(t *testing.T) {
	lc := &LoggingConfig{Level: "verbose", Format: "json", Output: "stdout"}
	assert.Error(t, lc.Validate())

	lc.Level = "info"
	assert.NoError(t, lc.Validate())
}

func TestLoggingConfig_Validate_RequiresFilePathWhenOutputIsFile(t *testing.T) {
	lc := &LoggingConfig{Level: "info", Format: "json", Output: "file"}
	assert.Error(t, lc.Validate())

	lc.File = "/var/log/logpipe.log"
	assert.NoError(t, lc.Validate())
}

func TestMonitoringConfig_Validate_RequiresMetricsPathWhenEnabled(t *testing.T) {
	mc := &MonitoringConfig{Enabled: true, PrometheusPort: 9090, SampleRate: 0.1}
	assert.Error(t, mc.Validate())

	mc.MetricsPath = "/metrics"
	assert.NoError(t, mc.Validate())
}

func TestConfig_GetClickHouseURL_AppendsMultiStatementFlag(t *testing.T) {
	cfg := &Config{ClickHouse: ClickHouseConfig{URL: "clickhouse://localhost:9000/default"}}
	assert.Contains(t, cfg.GetClickHouseURL(), "x-multi-statement=true")
}

func TestConfig_GetClickHouseURL_ConstructsFromFields(t *testing.T) {
	cfg := &Config{ClickHouse: ClickHouseConfig{Host: "ch.internal", Port: 9000, User: "default", Database: "logs"}}
	url := cfg.GetClickHouseURL()
	assert.Contains(t, url, "ch.internal:9000")
	assert.Contains(t, url, "/logs")
}

func TestConfig_GetRedisURL_PrefersExplicitURL(t *testing.T) {
	cfg := &Config{Redis: RedisConfig{URL: "redis://cache:6379/0"}}
	assert.Equal(t, "redis://cache:6379/0", cfg.GetRedisURL())
}

func TestConfig_IsDevelopmentAndIsProduction(t *testing.T) {
	cfg := &Config{Environment: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Environment = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}
