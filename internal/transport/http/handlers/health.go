package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler implements the liveness/readiness surface. Dependency
// checks (Redis, ClickHouse) are wired in by the caller rather than baked
// in here, so the handler stays testable without live connections.
type HealthHandler struct {
	checks map[string]func() error
}

func NewHealthHandler(checks map[string]func() error) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failures": failed})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
