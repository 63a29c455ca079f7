package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/store"
)

// DefaultRateWindow is the fixed window length for per-client counters
const DefaultRateWindow = 60 * time.Second

// RateLimiter is a fixed-window counter per (tenant, client) backed by the reservation cache
type RateLimiter struct {
	cache  store.ReservationCache
	window time.Duration
	logger *zap.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cache store.ReservationCache, window time.Duration, logger *zap.Logger) *RateLimiter {
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RateLimiter{
		cache:  cache,
		window: window,
		logger: logger,
	}
}

// Admit counts one attempt and reports whether it is within limit.
// Rejected attempts still count toward the window.
func (l *RateLimiter) Admit(ctx context.Context, tenantID, clientKey string, limit int) (bool, error) {
	key := rateLimitKey(tenantID, clientKey)

	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	// Only the caller that created the counter starts the window.
	if count == 1 {
		if err := l.cache.Expire(ctx, key, l.window); err != nil {
			// without an expiry the counter would throttle this client forever
			if delErr := l.cache.Del(context.WithoutCancel(ctx), key); delErr != nil {
				l.logger.Error("Failed to drop rate counter without expiry",
					zap.String("key", key),
					zap.Error(delErr))
			}
			return false, fmt.Errorf("failed to start rate window: %w", err)
		}
	}

	if count > int64(limit) {
		l.logger.Debug("Client throttled",
			zap.String("tenant_id", tenantID),
			zap.String("client", clientKey),
			zap.Int64("count", count),
			zap.Int("limit", limit))
		return false, nil
	}
	return true, nil
}

func rateLimitKey(tenantID, clientKey string) string {
	return fmt.Sprintf("ratelimit:%s:%s", tenantID, clientKey)
}
