package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/config"
)

// Open connects the durable store selected by cfg.Driver and applies its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pg, err := NewPostgresStore(
			cfg.Host,
			cfg.Port,
			cfg.Database,
			cfg.User,
			cfg.Password,
			cfg.MaxConns,
			cfg.MinConns,
			logger,
		)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case config.DriverSQLite:
		lite, err := OpenSQLiteStore(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// OpenReservationCache connects the reservation cache selected by cfg.Backend.
func OpenReservationCache(cfg config.RedisConfig, logger *zap.Logger) (ReservationCache, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		cache, err := NewRedisReservationCache(RedisOptions{
			Addr:         cfg.RedisAddr(),
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		return cache, nil
	case config.CacheMemory:
		logger.Warn("Using in-process reservation cache; identifiers are only unique within this replica")
		return NewInMemoryReservationCache(logger), nil
	default:
		return nil, fmt.Errorf("unknown reservation cache backend %q", cfg.Backend)
	}
}
