package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/store"
)

const (
	// DefaultReservationTTL is how long an unconfirmed identifier stays reserved
	DefaultReservationTTL = 300 * time.Second
	// DefaultMaxAttempts bounds candidate draws per allocation
	DefaultMaxAttempts = 20
)

var (
	// ErrAllocationExhausted is returned when every candidate draw collided
	ErrAllocationExhausted = errors.New("allocation exhausted")
	// ErrInvalidShape is returned for digit lengths outside the supported range
	ErrInvalidShape = errors.New("invalid identifier shape")
)

// Reservation is an identifier exclusively held for one tenant until released or expired
type Reservation struct {
	TenantID   string
	Identifier string
	Attempts   int

	allocator *Allocator
	once      sync.Once
	err       error
}

// Release deletes the reservation. Repeated calls are no-ops and return the first result.
func (r *Reservation) Release(ctx context.Context) error {
	r.once.Do(func() {
		r.err = r.allocator.Release(ctx, r.TenantID, r.Identifier)
	})
	return r.err
}

// Allocator draws random identifiers and reserves them in the reservation cache
type Allocator struct {
	cache       store.ReservationCache
	ttl         time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewAllocator creates a new allocator
func NewAllocator(
	cache store.ReservationCache,
	ttl time.Duration,
	maxAttempts int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Allocator {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{
		cache:       cache,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		metrics:     m,
		logger:      logger,
	}
}

// Allocate reserves a fresh identifier of the given shape for tenantID
func (a *Allocator) Allocate(ctx context.Context, tenantID string, shape model.IdentifierShape) (*Reservation, error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("%w: digit length %d not in [%d, %d]",
			ErrInvalidShape, shape.Length, model.MinIdentifierLength, model.MaxIdentifierLength)
	}

	low := pow10(shape.Length - 1)
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		candidate := shape.Prefix + strconv.FormatInt(low+rand.Int64N(9*low), 10) + shape.Suffix

		ok, err := a.cache.SetNX(ctx, reservationKey(tenantID, candidate), a.ttl)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve identifier: %w", err)
		}
		if ok {
			a.metrics.ObserveAllocationAttempts(attempt)
			return &Reservation{
				TenantID:   tenantID,
				Identifier: candidate,
				Attempts:   attempt,
				allocator:  a,
			}, nil
		}

		a.logger.Debug("Identifier candidate already reserved",
			zap.String("tenant_id", tenantID),
			zap.Int("attempt", attempt))
	}

	a.metrics.ObserveAllocationAttempts(a.maxAttempts)
	a.logger.Warn("Identifier allocation exhausted",
		zap.String("tenant_id", tenantID),
		zap.Int("digit_length", shape.Length),
		zap.Int("attempts", a.maxAttempts))
	return nil, ErrAllocationExhausted
}

// Release deletes the reservation for identifier; absent keys are not an error
func (a *Allocator) Release(ctx context.Context, tenantID, identifier string) error {
	if err := a.cache.Del(ctx, reservationKey(tenantID, identifier)); err != nil {
		return fmt.Errorf("failed to release identifier: %w", err)
	}
	return nil
}

func reservationKey(tenantID, identifier string) string {
	return fmt.Sprintf("bestell:%s:%s", tenantID, identifier)
}

// pow10 returns 10^n for small non-negative n
func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
