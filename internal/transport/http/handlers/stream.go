package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// SnapshotFunc returns the current worker-pool health, such as
// ThreadManager.HealthSnapshot. It is a function rather than a direct
// ThreadManager dependency so the server can run without a local worker
// pool: server and worker are separate deployment modes (§2), and the
// server-mode wiring in internal/app never sets one, so there the endpoint
// answers 503.
type SnapshotFunc func() interface{}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHealthHandler implements GET /v1/workers/stream: a websocket that
// pushes ThreadManager health snapshots on a fixed interval until the
// client disconnects.
type StreamHealthHandler struct {
	logger   *logrus.Logger
	interval time.Duration
	snapshot SnapshotFunc
}

func NewStreamHealthHandler(logger *logrus.Logger) *StreamHealthHandler {
	return &StreamHealthHandler{logger: logger, interval: 2 * time.Second}
}

// SetSnapshotFunc wires the health source after construction. Only a
// process holding a worker pool has one to give; internal/app never calls it.
func (h *StreamHealthHandler) SetSnapshotFunc(fn SnapshotFunc) {
	h.snapshot = fn
}

func (h *StreamHealthHandler) Handle(c *gin.Context) {
	if h.snapshot == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "worker health stream unavailable in this deployment mode"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(h.snapshot())
			if err != nil {
				h.logger.WithError(err).Warn("failed to marshal worker health snapshot")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		}
	}
}
