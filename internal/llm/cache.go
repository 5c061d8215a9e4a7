package llm

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/config"
	"github.com/fyrsmithlabs/docqa/internal/logging"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("llm: cache miss")

// Cache stores completions by request key.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// NewCache builds the cache selected by the cache config section. A "none"
// provider returns a nil Cache.
func NewCache(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryCache(cfg.MaxEntries, cfg.TTL.Duration()), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword.Value(),
			DB:       cfg.RedisDB,
		})
		return NewRedisCache(rdb, cfg.TTL.Duration()), nil
	default:
		return nil, fmt.Errorf("unknown cache provider %q", cfg.Provider)
	}
}

// Key derives the cache key for a request on a model.
func Key(model string, req Request) string {
	data, _ := json.Marshal(struct {
		Model       string  `json:"model"`
		System      string  `json:"system"`
		Prompt      string  `json:"prompt"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
	}{model, req.System, req.Prompt, req.Temperature, req.MaxTokens})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// MemoryCache is a bounded LRU with per-entry expiry.
type MemoryCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
}

type memoryEntry struct {
	key       string
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates an LRU cache. capacity <= 0 means 1000 entries;
// ttl <= 0 disables expiry.
func NewMemoryCache(capacity int, ttl time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return "", ErrCacheMiss
	}
	e := el.Value.(*memoryEntry)
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return "", ErrCacheMiss
	}
	c.order.MoveToFront(el)
	return e.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = time.Now().Add(c.ttl)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*memoryEntry)
		e.value, e.expiresAt = value, expires
		c.order.MoveToFront(el)
		return nil
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, value: value, expiresAt: expires})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) Close() error { return nil }

// RedisCache stores completions in Redis under the "docqa:llm:" prefix.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps a go-redis client.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) redisKey(key string) string {
	return "docqa:llm:" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, c.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, c.redisKey(key), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

// CachedClient serves repeated requests from a Cache. Cache failures are
// logged and fall through to the model.
type CachedClient struct {
	next   Client
	cache  Cache
	model  string
	logger *logging.Logger
}

// WithCache wraps next with cache. A nil cache returns next unchanged.
func WithCache(next Client, cache Cache, model string, logger *logging.Logger) Client {
	if cache == nil {
		return next
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CachedClient{next: next, cache: cache, model: model, logger: logger.Named("llm.cache")}
}

func (c *CachedClient) Complete(ctx context.Context, req Request) (string, error) {
	key := Key(c.model, req)
	val, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		CacheLookups.WithLabelValues("hit").Inc()
		return val, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn(ctx, "cache lookup failed", zap.Error(err))
	}
	CacheLookups.WithLabelValues("miss").Inc()

	out, err := c.next.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if err := c.cache.Set(ctx, key, out); err != nil {
		c.logger.Warn(ctx, "cache store failed", zap.Error(err))
	}
	return out, nil
}
