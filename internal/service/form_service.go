package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/store"
)

// ErrFormUnavailable is returned for forms that are missing or deactivated
var ErrFormUnavailable = errors.New("form not found or inactive")

// FormService resolves tenant-scoped forms, reading through an in-memory cache
type FormService struct {
	configStore store.ConfigStore
	cache       store.Cache
	cacheTTL    time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewFormService creates a new form service
func NewFormService(
	configStore store.ConfigStore,
	cache store.Cache,
	cacheTTL time.Duration,
	m *metrics.Metrics,
	logger *zap.Logger,
) *FormService {
	return &FormService{
		configStore: configStore,
		cache:       cache,
		cacheTTL:    cacheTTL,
		metrics:     m,
		logger:      logger,
	}
}

// Resolve returns an active form and its tenant
func (s *FormService) Resolve(ctx context.Context, tenantID, slug string) (*model.Form, *model.Tenant, error) {
	tenant, err := s.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrFormUnavailable
	}
	if err != nil {
		return nil, nil, err
	}

	form, err := s.getForm(ctx, tenantID, slug)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrFormUnavailable
	}
	if err != nil {
		return nil, nil, err
	}
	if !form.Active {
		return nil, nil, ErrFormUnavailable
	}
	return form, tenant, nil
}

// GetTenant retrieves tenant configuration, using cache if available
func (s *FormService) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	key := fmt.Sprintf("tenant:config:%s", tenantID)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if tenant, ok := cached.(*model.Tenant); ok {
			s.metrics.RecordCacheHit("tenant")
			return tenant, nil
		}
	}
	s.metrics.RecordCacheMiss("tenant")

	tenant, err := s.configStore.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tenant: %w", err)
	}

	if err := s.cache.Set(ctx, key, tenant, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache tenant config",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
	return tenant, nil
}

func (s *FormService) getForm(ctx context.Context, tenantID, slug string) (*model.Form, error) {
	key := fmt.Sprintf("form:%s:%s", tenantID, slug)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		if form, ok := cached.(*model.Form); ok {
			s.metrics.RecordCacheHit("form")
			return form, nil
		}
	}
	s.metrics.RecordCacheMiss("form")

	s.logger.Debug("Cache miss for form, fetching from database",
		zap.String("tenant_id", tenantID),
		zap.String("slug", slug))

	form, err := s.configStore.GetFormBySlug(ctx, tenantID, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch form: %w", err)
	}

	if err := s.cache.Set(ctx, key, form, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache form",
			zap.String("tenant_id", tenantID),
			zap.String("slug", slug),
			zap.Error(err))
	}
	return form, nil
}
