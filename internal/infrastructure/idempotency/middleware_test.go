package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Set(_ context.Context, key, value string, _ time.Duration, force bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if !force {
		if _, exists := f.data[key]; exists {
			return false, nil
		}
	}
	f.data[key] = value
	return true, nil
}

func (f *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func newHandler(store keyValueStore, cfg Config, handler gin.HandlerFunc) *gin.Engine {
	m := &Middleware{store: store, cfg: cfg, logger: testLogger()}
	engine := gin.New()
	engine.POST("/v1/logs", m.Enforce(), handler)
	return engine
}

func acceptedHandler(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

func TestEnforce_MissingKeyPassesThroughWhenNotEnforced(t *testing.T) {
	engine := newHandler(newFakeStore(), Config{Enforce: false, LockTTL: time.Second, ResponseTTL: time.Minute}, acceptedHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestEnforce_MissingKeyRejectedWhenEnforced(t *testing.T) {
	engine := newHandler(newFakeStore(), Config{Enforce: true, LockTTL: time.Second, ResponseTTL: time.Minute}, acceptedHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnforce_KeyTooLongRejected(t *testing.T) {
	engine := newHandler(newFakeStore(), Config{LockTTL: time.Second, ResponseTTL: time.Minute}, acceptedHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", nil)
	req.Header.Set(headerName, make129CharString())
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func make129CharString() string {
	b := make([]byte, 129)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestEnforce_FirstRequestProceedsAndCachesResponse(t *testing.T) {
	store := newFakeStore()
	engine := newHandler(store, Config{LockTTL: time.Second, ResponseTTL: time.Minute}, acceptedHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", nil)
	req.Header.Set(headerName, "key-1")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	cached, found, err := store.Get(context.Background(), "key-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.NotEqual(t, Processing, cached)
}

func TestEnforce_SecondRequestWhileProcessingGets409(t *testing.T) {
	store := newFakeStore()
	store.data["key-2"] = Processing

	engine := newHandler(store, Config{LockTTL: time.Second, ResponseTTL: time.Minute}, acceptedHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", nil)
	req.Header.Set(headerName, "key-2")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestEnforce_ThirdRequestReplaysCachedResponse(t *testing.T) {
	store := newFakeStore()
	cached, err := encodeResponse(CachedResponse{StatusCode: http.StatusAccepted, Payload: []byte(`{"success":true}`), ContentType: "application/json"})
	require.NoError(t, err)
	store.data["key-3"] = cached

	engine := newHandler(store, Config{LockTTL: time.Second, ResponseTTL: time.Minute}, acceptedHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", nil)
	req.Header.Set(headerName, "key-3")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestEnforce_StoreErrorFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("redis unavailable")

	engine := newHandler(store, Config{LockTTL: time.Second, ResponseTTL: time.Minute}, acceptedHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/logs", nil)
	req.Header.Set(headerName, "key-4")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code, "a store error must fail open, not block the request")
}
