package store

import (
	"context"
	"errors"
	"time"

	"github.com/tzomaik-art/form-builder/internal/model"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("not found")

// ReservationCache is the shared TTL key/value store used for identifier
// reservations and rate-limit windows. Implementations must make SetNX and
// Incr atomic across all callers sharing the cache.
type ReservationCache interface {
	// SetNX creates key with the given TTL only if it does not exist
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Del removes key; deleting an absent key is not an error
	Del(ctx context.Context, key string) error
	// Incr increments the counter at key, creating it at 1 if absent
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on an existing key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// ConfigStore reads tenant and form configuration owned by the admin surface
type ConfigStore interface {
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	GetFormBySlug(ctx context.Context, tenantID, slug string) (*model.Form, error)

	// Seeding
	UpsertTenant(ctx context.Context, tenant *model.Tenant) error
	UpsertForm(ctx context.Context, form *model.Form) error
}

// SubmissionStore persists completed submissions
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, submission *model.Submission) error
	GetSubmissionByBestellID(ctx context.Context, tenantID, bestellID string) (*model.Submission, error)
	CountSubmissions(ctx context.Context, tenantID string) (int64, error)
}

// Store is the durable store backing the service
type Store interface {
	ConfigStore
	SubmissionStore

	Ping(ctx context.Context) error
	Close() error
}

// Cache interface for in-memory caching
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
