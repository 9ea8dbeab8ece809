// Package idempotency implements the idempotency store contract (C10,
// §4.10): an atomic set-if-absent lock over Redis, fronted by a bounded L1
// cache, plus the pre-handler hook that guards write endpoints against
// duplicate submission. Grounded on internal/infrastructure/database's Redis
// wrapper for the store primitives and on
// internal/transport/http/middleware/csrf.go's double-submit-cookie
// middleware for the pre-handler hook shape (header check, structured
// response on rejection, Abort()/Next()).
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CachedResponse is what Set/Get store for a completed request (§4.10 step
// 2/3: "cache {statusCode, payload, content-type}").
type CachedResponse struct {
	StatusCode  int    `json:"status_code"`
	Payload     []byte `json:"payload"`
	ContentType string `json:"content_type"`
}

// Processing is the sentinel value stored while a request is in flight.
const Processing = "__PROCESSING__"

// Store implements §4.10's set/get over Redis, with an L1 LRU cache in
// front to absorb read bursts. A value read from L1 may be briefly stale
// relative to Redis (another process completed or evicted it), so the
// request path treats an L1 hit as advisory and still trusts Redis for the
// lock acquisition itself.
type Store struct {
	redis  *redis.Client
	cache  *lru.Cache[string, string]
	logger *logrus.Logger
}

func New(client *redis.Client, cacheSize int, logger *logrus.Logger) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{redis: client, cache: cache, logger: logger}, nil
}

// Set implements §4.10's set(key, value, ttl, {force?}). When force is
// false this is an atomic set-if-absent (SET NX); it returns true only on
// the call that actually wrote the value. When force is true it always
// overwrites (used once a response is ready to cache with a longer TTL).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration, force bool) (bool, error) {
	if force {
		if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
			return false, err
		}
		s.cache.Add(key, value)
		return true, nil
	}

	ok, err := s.redis.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		s.cache.Add(key, value)
	}
	return ok, nil
}

// Get implements §4.10's get(key). It consults the L1 cache first; a miss
// falls through to Redis and backfills the cache.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := s.cache.Get(key); ok {
		return v, true, nil
	}

	v, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	s.cache.Add(key, v)
	return v, true, nil
}

func encodeResponse(r CachedResponse) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeResponse(raw string) (CachedResponse, error) {
	var r CachedResponse
	err := json.Unmarshal([]byte(raw), &r)
	return r, err
}
