package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisReservationCache implements ReservationCache for Redis
type RedisReservationCache struct {
	client *redis.Client
	logger *zap.Logger
}

// RedisOptions holds the connection settings for the reservation cache
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// NewRedisReservationCache creates a new Redis reservation cache
func NewRedisReservationCache(opts RedisOptions, logger *zap.Logger) (*RedisReservationCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisReservationCache{
		client: client,
		logger: logger,
	}, nil
}

// SetNX reserves key with a TTL in a single round trip
func (c *RedisReservationCache) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// Del removes a key
func (c *RedisReservationCache) Del(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	return nil
}

// Incr increments a counter
func (c *RedisReservationCache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return n, nil
}

// Expire sets the TTL on a key
func (c *RedisReservationCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	set, err := c.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	if !set {
		c.logger.Debug("Expire on missing key", zap.String("key", key))
	}
	return nil
}

// Ping checks the Redis connection
func (c *RedisReservationCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisReservationCache) Close() error {
	return c.client.Close()
}
