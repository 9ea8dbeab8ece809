package retry

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/core/domain/logrecord"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeArchiver struct {
	uploadedKey  string
	uploadedData []byte
	err          error
}

func (f *fakeArchiver) Upload(_ context.Context, key string, content []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.uploadedKey = key
	f.uploadedData = content
	return nil
}

type fakeAlerter struct {
	bodies []string
}

func (f *fakeAlerter) Alert(_ context.Context, body string) error {
	f.bodies = append(f.bodies, body)
	return nil
}

func TestNew_ClampsDefaults(t *testing.T) {
	s, err := New(nil, nil, nil, testLogger(), Config{Scope: "svc-a"})
	require.NoError(t, err)
	assert.Equal(t, int64(dlqMaxLength), s.cfg.RetryQueueLimit)
	assert.Equal(t, "dlq-archive", s.cfg.ArchiveKeyPrefix)
}

func TestStreamKey_ScopesByConfig(t *testing.T) {
	s, err := New(nil, nil, nil, testLogger(), Config{Scope: "svc-a"})
	require.NoError(t, err)
	assert.Equal(t, "logpipe:dlq:svc-a", s.streamKey())
}

func TestSendBackpressureAlert_RendersTemplateWithScopeAndCause(t *testing.T) {
	alerter := &fakeAlerter{}
	s, err := New(nil, nil, alerter, testLogger(), Config{Scope: "svc-a", RetryQueueLimit: 10})
	require.NoError(t, err)

	s.sendBackpressureAlert(context.Background(), 42, "clickhouse unavailable")

	require.Len(t, alerter.bodies, 1)
	assert.Contains(t, alerter.bodies[0], "svc-a")
	assert.Contains(t, alerter.bodies[0], "42")
	assert.Contains(t, alerter.bodies[0], "clickhouse unavailable")
}

func TestArchiveOldest_UploadsParquetEncodedEntries(t *testing.T) {
	archiver := &fakeArchiver{}
	s, err := New(nil, archiver, nil, testLogger(), Config{Scope: "svc-a"})
	require.NoError(t, err)

	rec, err := logrecord.New(logrecord.RawRecord{AppID: "svc-a", Level: "error", Message: "boom", Source: "api"})
	require.NoError(t, err)

	s.archiveOldest(context.Background(), s.streamKey(), []*logrecord.NormalizedRecord{rec})

	assert.True(t, strings.HasPrefix(archiver.uploadedKey, "dlq-archive/svc-a/"))
	assert.NotEmpty(t, archiver.uploadedData)
}

func TestArchiveOldest_NilArchiverIsNoop(t *testing.T) {
	s, err := New(nil, nil, nil, testLogger(), Config{Scope: "svc-a"})
	require.NoError(t, err)

	rec, err := logrecord.New(logrecord.RawRecord{AppID: "svc-a", Level: "error", Message: "boom", Source: "api"})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		s.archiveOldest(context.Background(), s.streamKey(), []*logrecord.NormalizedRecord{rec})
	})
}

func TestLoggingAlerter_LogsBody(t *testing.T) {
	a := &LoggingAlerter{Logger: testLogger()}
	assert.NoError(t, a.Alert(context.Background(), "test alert body"))
}

func TestShutdown_NoopSinceQueueForRetryIsSynchronous(t *testing.T) {
	s, err := New(nil, nil, nil, testLogger(), Config{Scope: "svc-a"})
	require.NoError(t, err)
	assert.NoError(t, s.Shutdown(context.Background()))
}
