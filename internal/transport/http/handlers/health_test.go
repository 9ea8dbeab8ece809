package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealthHandler_Check(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	h.Check(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_Ready_AllHealthy(t *testing.T) {
	h := NewHealthHandler(map[string]func() error{
		"redis":      func() error { return nil },
		"clickhouse": func() error { return nil },
	})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	h.Ready(c)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_Ready_ReportsFailures(t *testing.T) {
	h := NewHealthHandler(map[string]func() error{
		"redis":      func() error { return nil },
		"clickhouse": func() error { return errors.New("connection refused") },
	})
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
