package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestStreamHealthHandler_UnavailableWithoutSnapshot(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	h := NewStreamHealthHandler(logger)

	req := httptest.NewRequest(http.MethodGet, "/v1/workers/stream", nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = req

	h.Handle(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unavailable in this deployment mode")
}

func TestStreamHealthHandler_SetSnapshotFunc(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	h := NewStreamHealthHandler(logger)

	called := false
	h.SetSnapshotFunc(func() interface{} {
		called = true
		return map[string]int{"active": 1}
	})

	snap := h.snapshot()
	assert.True(t, called)
	assert.Equal(t, map[string]int{"active": 1}, snap)
}
