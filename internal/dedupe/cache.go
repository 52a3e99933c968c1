// ABOUTME: Bounded TTL set of Matrix event IDs already handled by the manager
// ABOUTME: Guards command intake against sync redelivery of the same event

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Defaults for the manager's command intake.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 4096
)

// Cache remembers keys for ttl, holding at most maxSize of them. The oldest
// key is dropped first once the cache is full.
type Cache struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// New creates a Cache. Non-positive arguments select the defaults.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

// CheckAndMark reports whether key was already seen and unexpired. A new
// key is marked before returning false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen.Peek(key); ok {
		return true
	}
	c.seen.Add(key, struct{}{})
	return false
}

// Len returns the number of tracked keys, including any not yet swept.
func (c *Cache) Len() int {
	return c.seen.Len()
}
