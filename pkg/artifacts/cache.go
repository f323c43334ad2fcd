package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("rendering not in cache")

// Cache holds CACHE-decision renderings in Redis with a TTL instead of
// durably materializing them.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache connects to Redis at addr. A zero ttl defaults to one hour.
func NewCache(addr string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func cacheKey(tenantID, artifactID, rendering string) string {
	return fmt.Sprintf("cortex:rendering:%s:%s:%s", tenantID, artifactID, rendering)
}

// PutRendering stores rendering bytes with the configured TTL.
func (c *Cache) PutRendering(ctx context.Context, tenantID, artifactID, rendering string, data []byte) error {
	if err := c.rdb.Set(ctx, cacheKey(tenantID, artifactID, rendering), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache rendering: %w", err)
	}
	return nil
}

// GetRendering fetches cached rendering bytes, or ErrCacheMiss after the
// TTL has lapsed.
func (c *Cache) GetRendering(ctx context.Context, tenantID, artifactID, rendering string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, cacheKey(tenantID, artifactID, rendering)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return data, nil
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
