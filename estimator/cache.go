package estimator

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aluiziolira/go-resale-estimator/models"
)

// Cache memoises found estimates per keyword for a bounded time. Misses are
// never cached so a later lookup can still succeed.
type Cache struct {
	next  Lookup
	cache *expirable.LRU[string, models.Estimate]
}

// NewCache wraps next with an LRU of size entries expiring after ttl.
func NewCache(next Lookup, size int, ttl time.Duration) *Cache {
	return &Cache{
		next:  next,
		cache: expirable.NewLRU[string, models.Estimate](size, nil, ttl),
	}
}

// Estimate implements Lookup.
func (c *Cache) Estimate(ctx context.Context, keyword string) (models.Estimate, error) {
	if cached, ok := c.cache.Get(keyword); ok {
		return cached, nil
	}
	result, err := c.next.Estimate(ctx, keyword)
	if err != nil {
		return result, err
	}
	if result.Found {
		c.cache.Add(keyword, result)
	}
	return result, nil
}

// Len returns the number of cached estimates.
func (c *Cache) Len() int {
	return c.cache.Len()
}
