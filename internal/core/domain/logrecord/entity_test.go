package logrecord

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() RawRecord {
	return RawRecord{
		AppID:   "svc-a",
		Level:   "info",
		Message: "hello",
		Source:  "api",
	}
}

func TestNew_HappyPath(t *testing.T) {
	rec, err := New(validRaw())
	require.NoError(t, err)
	assert.Equal(t, "svc-a", rec.AppID())
	assert.Equal(t, LevelInfo, rec.Level())
	assert.Equal(t, "hello", rec.Message())
	assert.Equal(t, "api", rec.Source())
	assert.Empty(t, rec.StreamMessageID())
}

func TestNew_LevelCaseNormalized(t *testing.T) {
	raw := validRaw()
	raw.Level = "WaRn"
	rec, err := New(raw)
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, rec.Level())
}

func TestNew_RejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		field string
		mut   func(*RawRecord)
	}{
		{"app_id", "app_id", func(r *RawRecord) { r.AppID = "" }},
		{"message", "message", func(r *RawRecord) { r.Message = "" }},
		{"source", "source", func(r *RawRecord) { r.Source = "" }},
		{"level", "level", func(r *RawRecord) { r.Level = "VERBOSE" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mut(&raw)
			_, err := New(raw)
			require.Error(t, err)
			fe, ok := err.(FieldError)
			require.True(t, ok)
			assert.Equal(t, tc.field, fe.Field)
		})
	}
}

func TestNew_EnforcesLengthBounds(t *testing.T) {
	raw := validRaw()
	raw.AppID = strings.Repeat("a", maxAppIDLen+1)
	_, err := New(raw)
	require.Error(t, err)

	raw = validRaw()
	raw.Message = strings.Repeat("m", maxMessageLen+1)
	_, err = New(raw)
	require.Error(t, err)
}

func TestNew_MetadataSizeInvariant(t *testing.T) {
	raw := validRaw()
	raw.Metadata = map[string]interface{}{
		"blob": strings.Repeat("x", maxMetadataBytes),
	}
	_, err := New(raw)
	require.Error(t, err)
	fe := err.(FieldError)
	assert.Equal(t, "metadata", fe.Field)
}

func TestNew_MetadataRoundTripsDecimalsExactly(t *testing.T) {
	raw := validRaw()
	raw.Metadata = map[string]interface{}{"price": 19.99}
	rec, err := New(raw)
	require.NoError(t, err)
	assert.Equal(t, "19.99", rec.Metadata()["price"])
}

func TestNormalizedRecord_Immutable(t *testing.T) {
	rec, err := New(validRaw())
	require.NoError(t, err)

	withID := rec.WithStreamMessageID("1-0")
	assert.Empty(t, rec.StreamMessageID(), "original record must not be mutated")
	assert.Equal(t, "1-0", withID.StreamMessageID())

	meta := map[string]interface{}{"k": "v"}
	raw := validRaw()
	raw.Metadata = meta
	withMeta, err := New(raw)
	require.NoError(t, err)
	got := withMeta.Metadata()
	got["k"] = "mutated"
	assert.Equal(t, "v", withMeta.Metadata()["k"], "returned metadata map must be a copy")
}

func TestBatchNormalize_MixedBatch(t *testing.T) {
	raw := []RawRecord{
		{AppID: "a", Level: "info", Message: "m1", Source: "api"},
		{AppID: "", Level: "info", Message: "m2", Source: "api"},
		{AppID: "c", Level: "info", Message: "m3", Source: "api"},
		{AppID: "d", Level: "INVALID", Message: "m4", Source: "api"},
		{AppID: "e", Level: "info", Message: "m5", Source: "api"},
	}

	valid, errs := BatchNormalize(raw)
	require.Len(t, valid, 3)
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Index)
	assert.Equal(t, 3, errs[1].Index)
}

func TestBatchNormalize_PreservesOrder(t *testing.T) {
	raw := make([]RawRecord, 0, 50)
	for i := 0; i < 50; i++ {
		r := validRaw()
		r.Message = strings.Repeat("m", 1) + string(rune('a'+i%26))
		raw = append(raw, r)
	}
	valid, errs := BatchNormalize(raw)
	assert.Len(t, errs, 0)
	require.Len(t, valid, 50)
	for i, rec := range valid {
		assert.Equal(t, raw[i].Message, rec.Message())
	}
}
