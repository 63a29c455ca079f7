package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConfigCache is a bounded in-memory TTL cache for tenant and form snapshots
type ConfigCache struct {
	data    map[string]*cacheItem
	mu      sync.RWMutex
	maxSize int
	stop    chan struct{}
	once    sync.Once
	logger  *zap.Logger
}

type cacheItem struct {
	value     interface{}
	expiresAt time.Time
}

// NewConfigCache creates a new config cache holding at most maxSize entries
func NewConfigCache(maxSize int, logger *zap.Logger) *ConfigCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	cache := &ConfigCache{
		data:    make(map[string]*cacheItem),
		maxSize: maxSize,
		stop:    make(chan struct{}),
		logger:  logger,
	}

	go cache.cleanup()

	return cache
}

// Get retrieves a value from cache
func (c *ConfigCache) Get(ctx context.Context, key string) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[key]
	if !exists || time.Now().After(item.expiresAt) {
		return nil, ErrNotFound
	}

	return item.value, nil
}

// Set stores a value in cache with TTL
func (c *ConfigCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxSize {
		c.evictLocked()
	}

	c.data[key] = &cacheItem{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

// evictLocked drops an expired entry, or the entry closest to expiry
func (c *ConfigCache) evictLocked() {
	now := time.Now()
	var victim string
	var earliest time.Time
	for k, v := range c.data {
		if now.After(v.expiresAt) {
			delete(c.data, k)
			return
		}
		if victim == "" || v.expiresAt.Before(earliest) {
			victim, earliest = k, v.expiresAt
		}
	}
	delete(c.data, victim)
}

// Delete removes a value from cache
func (c *ConfigCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Size returns the number of items in cache
func (c *ConfigCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close stops the cleanup goroutine
func (c *ConfigCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// cleanup periodically removes expired entries
func (c *ConfigCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, item := range c.data {
				if now.After(item.expiresAt) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
