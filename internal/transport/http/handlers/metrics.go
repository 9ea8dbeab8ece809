package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes the Prometheus registry at /metrics.
type MetricsHandler struct {
	handler gin.HandlerFunc
}

func NewMetricsHandler() *MetricsHandler {
	h := promhttp.Handler()
	return &MetricsHandler{handler: gin.WrapH(h)}
}

func (m *MetricsHandler) Handler(c *gin.Context) {
	m.handler(c)
}
