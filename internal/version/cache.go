package version

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the number of normalizers kept per run.
const DefaultCacheSize = 64

// Cache holds one Normalizer per adapter, keyed by the adapter's component
// id. It is owned by a run and purged when the run ends.
type Cache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Normalizer]
}

// NewCache creates a cache holding at most size normalizers.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Normalizer](size)
	if err != nil {
		// only fails on a non-positive size
		panic(fmt.Sprintf("failed to create normalizer cache: %v", err))
	}
	return &Cache{cache: c}
}

// Get returns the normalizer for id, building it from data on a miss.
func (c *Cache) Get(id string, data Data) (*Normalizer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.cache.Get(id); ok {
		return n, nil
	}
	n, err := NewNormalizer(data)
	if err != nil {
		return nil, fmt.Errorf("failed to build version normalizer for %s: %w", id, err)
	}
	c.cache.Add(id, n)
	return n, nil
}

// Len returns the number of cached normalizers.
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Purge evicts every normalizer.
func (c *Cache) Purge() {
	c.cache.Purge()
}
