package logrecord

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/core/domain/logrecord"
)

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func makeRaw(n int, badEvery int) []logrecord.RawRecord {
	raw := make([]logrecord.RawRecord, n)
	for i := range raw {
		raw[i] = logrecord.RawRecord{
			AppID:   "svc-a",
			Level:   "info",
			Message: "m",
			Source:  "api",
		}
		if badEvery > 0 && i%badEvery == 0 {
			raw[i].AppID = ""
		}
	}
	return raw
}

func TestValidateBatch_SameThreadForSmallN(t *testing.T) {
	s := NewStrategy(DefaultStrategyConfig(), newTestLogger())
	res := s.ValidateBatch(makeRaw(10, 0))
	assert.Equal(t, StrategySameThread, res.StrategyTag)
	assert.Len(t, res.Valid, 10)
}

func TestValidateBatch_BackgroundForMediumN(t *testing.T) {
	s := NewStrategy(DefaultStrategyConfig(), newTestLogger())
	res := s.ValidateBatch(makeRaw(200, 0))
	assert.Equal(t, StrategyBackground, res.StrategyTag)
	assert.Len(t, res.Valid, 200)
}

func TestValidateBatch_ParallelForLargeN_PreservesOrderAndErrors(t *testing.T) {
	cfg := DefaultStrategyConfig()
	s := NewStrategy(cfg, newTestLogger())

	raw := makeRaw(2000, 100) // every 100th record invalid
	res := s.ValidateBatch(raw)
	assert.Equal(t, StrategyParallel, res.StrategyTag)
	assert.Len(t, res.Valid, 1980)
	assert.Len(t, res.Errors, 20)

	for _, e := range res.Errors {
		assert.Equal(t, 0, e.Index%100)
	}
}

func TestValidateBatch_Determinism(t *testing.T) {
	s := NewStrategy(DefaultStrategyConfig(), newTestLogger())
	raw := makeRaw(1500, 50)

	r1 := s.ValidateBatch(raw)
	r2 := s.ValidateBatch(raw)

	require.Equal(t, len(r1.Valid), len(r2.Valid))
	require.Equal(t, len(r1.Errors), len(r2.Errors))
	for i := range r1.Errors {
		assert.Equal(t, r1.Errors[i].Index, r2.Errors[i].Index)
	}
}

func TestGetStats_CountsByStrategy(t *testing.T) {
	s := NewStrategy(DefaultStrategyConfig(), newTestLogger())
	s.ValidateBatch(makeRaw(10, 0))
	s.ValidateBatch(makeRaw(10, 0))

	stats := s.GetStats()
	assert.Equal(t, int64(2), stats.BatchesProcessed)
	assert.Equal(t, int64(2), stats.ByStrategy[StrategySameThread])
}
