package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logpipe/internal/core/domain/logrecord"
	logrecordsvc "logpipe/internal/services/logrecord"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDecodeBody_SingleObject(t *testing.T) {
	body := bytes.NewBufferString(`{"app_id":"svc-a","level":"info","message":"hello","source":"api"}`)
	records, err := decodeBody(body)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "svc-a", records[0].AppID)
}

func TestDecodeBody_Array(t *testing.T) {
	body := bytes.NewBufferString(`[
		{"app_id":"svc-a","level":"info","message":"hello","source":"api"},
		{"app_id":"svc-b","level":"error","message":"boom","source":"worker"}
	]`)
	records, err := decodeBody(body)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "svc-b", records[1].AppID)
}

func TestDecodeBody_InvalidJSON(t *testing.T) {
	body := bytes.NewBufferString(`not json`)
	_, err := decodeBody(body)
	assert.Error(t, err)
}

func TestIngestHandler_Respond_AllAccepted(t *testing.T) {
	h := &IngestHandler{}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	result := logrecordsvc.Result{
		Valid:       []*logrecord.NormalizedRecord{{}, {}},
		Throughput:  100.0,
		StrategyTag: "small",
	}

	h.respond(c, result)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":2`)
	assert.Contains(t, rec.Body.String(), `"success":true`)
}

func TestIngestHandler_Respond_AllRejected(t *testing.T) {
	h := &IngestHandler{}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	result := logrecordsvc.Result{
		Errors: []logrecord.FieldError{
			{Index: 0, Field: "app_id", Reason: "required"},
			{Index: 1, Field: "level", Reason: "invalid"},
		},
	}

	h.respond(c, result)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Contains(t, rec.Body.String(), "required")
}

func TestIngestHandler_Respond_PartialSuccessStillAccepted(t *testing.T) {
	h := &IngestHandler{}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	result := logrecordsvc.Result{
		Valid:  []*logrecord.NormalizedRecord{{}, {}, {}},
		Errors: []logrecord.FieldError{{Index: 1, Field: "level", Reason: "invalid"}},
	}

	h.respond(c, result)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":3`)
	assert.Contains(t, rec.Body.String(), `"rejected":1`)
	assert.Contains(t, rec.Body.String(), `"index":1`)
	assert.Contains(t, rec.Body.String(), `"error":"invalid"`)
}
