package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemoryReservationCache implements ReservationCache using an in-memory map.
// It is atomic within a single process only.
type InMemoryReservationCache struct {
	data   map[string]*counterItem
	mu     sync.Mutex
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

type counterItem struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

func (i *counterItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// NewInMemoryReservationCache creates a new in-memory reservation cache
func NewInMemoryReservationCache(logger *zap.Logger) *InMemoryReservationCache {
	return NewInMemoryReservationCacheWithClock(time.Now, logger)
}

// NewInMemoryReservationCacheWithClock creates a cache that reads time from now
func NewInMemoryReservationCacheWithClock(now func() time.Time, logger *zap.Logger) *InMemoryReservationCache {
	c := &InMemoryReservationCache{
		data:   make(map[string]*counterItem),
		now:    now,
		stop:   make(chan struct{}),
		logger: logger,
	}

	// Start cleanup goroutine
	go c.cleanup()

	return c
}

// lookup returns the live item for key, dropping it if expired. Caller holds mu.
func (c *InMemoryReservationCache) lookup(key string) (*counterItem, bool) {
	item, exists := c.data[key]
	if !exists {
		return nil, false
	}
	if item.expired(c.now()) {
		delete(c.data, key)
		return nil, false
	}
	return item, true
}

// SetNX creates key with a TTL if absent
func (c *InMemoryReservationCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.lookup(key); exists {
		return false, nil
	}

	item := &counterItem{value: 1}
	if ttl > 0 {
		item.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = item
	return true, nil
}

// Del removes a key
func (c *InMemoryReservationCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Incr increments a counter, creating it without expiry if absent
func (c *InMemoryReservationCache) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.lookup(key)
	if !exists {
		item = &counterItem{}
		c.data[key] = item
	}
	item.value++
	return item.value, nil
}

// Expire sets the TTL on an existing key
func (c *InMemoryReservationCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.lookup(key)
	if !exists {
		return nil
	}
	item.expiresAt = c.now().Add(ttl)
	return nil
}

// Exists reports whether key is currently present
func (c *InMemoryReservationCache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.lookup(key)
	return exists
}

// Ping always succeeds
func (c *InMemoryReservationCache) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup goroutine
func (c *InMemoryReservationCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// Size returns the number of items in cache, including expired ones not yet swept
func (c *InMemoryReservationCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// cleanup periodically removes expired entries
func (c *InMemoryReservationCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := c.now()
			removed := 0
			for key, item := range c.data {
				if item.expired(now) {
					delete(c.data, key)
					removed++
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				c.logger.Debug("Swept expired reservation cache entries", zap.Int("removed", removed))
			}
		}
	}
}
