package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the byte-level store CachedRetriever sits on.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache adapts a go-redis client to Cache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get returns the value at key, or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

// Set stores value at key with a ttl.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedRetriever memoizes another Retriever's results. Cache failures are
// logged and bypassed; they never fail a retrieval.
type CachedRetriever struct {
	next   Retriever
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRetriever wraps next with cache.
func NewCachedRetriever(next Retriever, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRetriever{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "knowledge_cache"),
	}
}

// Retrieve serves from cache when possible, otherwise delegates and
// stores the result.
func (r *CachedRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	key := cacheKey(query, topK)

	b, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		var passages []Passage
		if uerr := json.Unmarshal(b, &passages); uerr == nil {
			r.logger.Debug("knowledge cache hit", "key", key)
			if passages == nil {
				passages = []Passage{}
			}
			return passages, nil
		}
		r.logger.Warn("discarding corrupt cache entry", "key", key)
	case !errors.Is(err, ErrCacheMiss):
		r.logger.Warn("knowledge cache read failed", "key", key, "error", err)
	}

	passages, err := r.next.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(passages); err == nil {
		if err := r.cache.Set(ctx, key, b, r.ttl); err != nil {
			r.logger.Warn("knowledge cache write failed", "key", key, "error", err)
		}
	}
	return passages, nil
}

func cacheKey(query string, topK int) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", topK, normalized)))
	return "noah:kb:" + hex.EncodeToString(sum[:16])
}
