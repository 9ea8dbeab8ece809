package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"logpipe/pkg/response"
)

// keyValueStore is the subset of Store the middleware depends on, narrowed
// to an interface so the request-path logic can be tested without a live
// Redis connection.
type keyValueStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration, force bool) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
}

const headerName = "Idempotency-Key"
const maxKeyLen = 128

// Config controls the pre-handler hook (§4.10).
type Config struct {
	Enforce      bool
	LockTTL      time.Duration
	ResponseTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enforce:     false,
		LockTTL:     30 * time.Second,
		ResponseTTL: 24 * time.Hour,
	}
}

// Middleware implements §4.10's request-path contract as a Gin
// pre-handler hook, the same double-submit shape
// middleware.CSRFMiddleware.ValidateCSRF uses: inspect the request,
// respond-and-abort on violation, or Next() through to the handler.
type Middleware struct {
	store  keyValueStore
	cfg    Config
	logger *logrus.Logger
}

func NewMiddleware(store *Store, cfg Config, logger *logrus.Logger) *Middleware {
	return &Middleware{store: store, cfg: cfg, logger: logger}
}

// responseRecorder captures the handler's response so it can be cached
// after a successful send, without buffering for requests that never reach
// the handler (rejected/replayed requests never construct one).
type responseRecorder struct {
	gin.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Enforce implements the four-step contract in §4.10.
func (m *Middleware) Enforce() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerName)

		if key == "" {
			if m.cfg.Enforce {
				response.ErrorWithStatus(c, http.StatusBadRequest, "IDEMPOTENCY_KEY_MISSING", "Idempotency-Key header is required", "")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		if len(key) > maxKeyLen {
			response.ErrorWithStatus(c, http.StatusBadRequest, "IDEMPOTENCY_KEY_TOO_LONG", "Idempotency-Key exceeds 128 characters", "")
			c.Abort()
			return
		}

		acquired, err := m.store.Set(c.Request.Context(), key, Processing, m.cfg.LockTTL, false)
		if err != nil {
			// Fail open: proceed as if no idempotency key were present
			// (§4.10 step 4, §7 "Idempotency-store error").
			m.logger.WithError(err).Warn("idempotency store error on lock acquisition, failing open")
			c.Next()
			return
		}

		if acquired {
			rec := &responseRecorder{ResponseWriter: c.Writer}
			c.Writer = rec
			c.Next()

			cached := CachedResponse{
				StatusCode:  rec.status,
				Payload:     rec.body.Bytes(),
				ContentType: rec.Header().Get("Content-Type"),
			}
			encoded, encErr := encodeResponse(cached)
			if encErr != nil {
				m.logger.WithError(encErr).Warn("failed to encode cached idempotency response")
				return
			}
			if _, err := m.store.Set(c.Request.Context(), key, encoded, m.cfg.ResponseTTL, true); err != nil {
				m.logger.WithError(err).Warn("failed to cache idempotency response")
			}
			return
		}

		existing, found, err := m.store.Get(c.Request.Context(), key)
		if err != nil {
			m.logger.WithError(err).Warn("idempotency store error on lookup, failing open")
			c.Next()
			return
		}
		if !found || existing == Processing {
			retryAfter := retrySeconds(m.cfg.LockTTL)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "IDEMPOTENCY_IN_PROGRESS",
					"message": "A request with this idempotency key is already being processed",
				},
				"retryAfter": retryAfter,
			})
			c.Abort()
			return
		}

		cached, decErr := decodeResponse(existing)
		if decErr != nil {
			m.logger.WithError(decErr).Warn("failed to decode cached idempotency response, failing open")
			c.Next()
			return
		}
		c.Data(cached.StatusCode, cached.ContentType, cached.Payload)
		c.Abort()
	}
}

func retrySeconds(d time.Duration) int {
	secs := int(d.Seconds())
	if secs <= 0 {
		secs = 1
	}
	return secs
}
