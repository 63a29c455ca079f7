package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/client"
	apierrors "github.com/tzomaik-art/form-builder/internal/errors"
	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/notification"
	"github.com/tzomaik-art/form-builder/internal/store"
	"github.com/tzomaik-art/form-builder/internal/validation"
)

// Directory is the external uniqueness authority for one tenant
type Directory interface {
	Exists(ctx context.Context, bestellID string) (bool, error)
	Upsert(ctx context.Context, customer client.Customer) (string, error)
}

// DirectoryProvider returns the tenant's directory, or nil when none is configured
type DirectoryProvider func(tenant *model.Tenant) Directory

// Notifier accepts post-commit notifications without blocking
type Notifier interface {
	Notify(n notification.Notification)
}

// SubmissionConfig holds per-step timeouts
type SubmissionConfig struct {
	CacheTimeout     time.Duration
	AuthorityTimeout time.Duration
	StoreTimeout     time.Duration
}

// SubmitRequest is one inbound form submission
type SubmitRequest struct {
	TenantID      string
	FormSlug      string
	Fields        map[string]any
	ClientAddress string
}

// SubmissionService runs the submission pipeline: admit, validate, allocate,
// confirm with the directory, persist and notify. Any failure after
// allocation releases the reservation before returning.
type SubmissionService struct {
	forms       *FormService
	limiter     *RateLimiter
	allocator   *Allocator
	validator   *validation.Validator
	submissions store.SubmissionStore
	directories DirectoryProvider
	notifier    Notifier
	cfg         SubmissionConfig
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewSubmissionService creates a new submission service
func NewSubmissionService(
	forms *FormService,
	limiter *RateLimiter,
	allocator *Allocator,
	validator *validation.Validator,
	submissions store.SubmissionStore,
	directories DirectoryProvider,
	notifier Notifier,
	cfg SubmissionConfig,
	m *metrics.Metrics,
	tracer trace.Tracer,
	logger *zap.Logger,
) *SubmissionService {
	if directories == nil {
		directories = func(*model.Tenant) Directory { return nil }
	}
	if cfg.CacheTimeout <= 0 {
		cfg.CacheTimeout = 2 * time.Second
	}
	if cfg.AuthorityTimeout <= 0 {
		cfg.AuthorityTimeout = 10 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &SubmissionService{
		forms:       forms,
		limiter:     limiter,
		allocator:   allocator,
		validator:   validator,
		submissions: submissions,
		directories: directories,
		notifier:    notifier,
		cfg:         cfg,
		metrics:     m,
		tracer:      tracer,
		logger:      logger,
	}
}

// Submit processes one submission and returns what the submitter should display
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*model.SubmissionResult, error) {
	ctx, span := s.tracer.Start(ctx, "submission.Submit", trace.WithAttributes(
		attribute.String("tenant_id", req.TenantID),
		attribute.String("form_slug", req.FormSlug),
	))
	defer span.End()

	result, err := s.submit(ctx, req)

	code := "OK"
	if err != nil {
		code = string(apierrors.GetCode(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	} else {
		span.SetAttributes(attribute.String("bestell_id", result.BestellID))
	}
	s.metrics.RecordSubmission(req.TenantID, code)
	return result, err
}

func (s *SubmissionService) submit(ctx context.Context, req SubmitRequest) (*model.SubmissionResult, error) {
	if req.ClientAddress == "" {
		req.ClientAddress = "unknown"
	}
	logger := s.logger.With(
		zap.String("tenant_id", req.TenantID),
		zap.String("form_slug", req.FormSlug))

	// 1. form
	var form *model.Form
	var tenant *model.Tenant
	err := s.step(ctx, "resolve_form", s.cfg.StoreTimeout, func(ctx context.Context) error {
		var err error
		form, tenant, err = s.forms.Resolve(ctx, req.TenantID, req.FormSlug)
		return err
	})
	if errors.Is(err, ErrFormUnavailable) {
		return nil, apierrors.NotFound("Form not found or inactive")
	}
	if err != nil {
		logger.Error("Failed to resolve form", zap.Error(err))
		return nil, apierrors.Internal("Failed to load form", err)
	}

	// 2. rate limit
	var admitted bool
	err = s.step(ctx, "rate_limit", s.cfg.CacheTimeout, func(ctx context.Context) error {
		var err error
		admitted, err = s.limiter.Admit(ctx, tenant.ID, req.ClientAddress, tenant.Settings.EffectiveRateLimit())
		return err
	})
	if err != nil {
		logger.Error("Rate limiter unavailable", zap.Error(err))
		return nil, apierrors.Internal("Failed to process submission", err)
	}
	if !admitted {
		s.metrics.RecordRateLimited(tenant.ID)
		return nil, apierrors.RateLimited()
	}

	// 3. schema validation
	payload, err := s.validator.Validate(form, req.Fields)
	if err != nil {
		return nil, err
	}

	// 4. display name and email are required whatever the form says
	socialName := validation.StringField(payload, model.FieldKeySocialName)
	email := validation.StringField(payload, model.FieldKeyEmail)
	if socialName == "" || email == "" {
		missing := make(map[string]string)
		if socialName == "" {
			missing[model.FieldKeySocialName] = "Social Name is required"
		}
		if email == "" {
			missing[model.FieldKeyEmail] = "Email is required"
		}
		return nil, apierrors.Validation("Social Name and Email are required", missing)
	}

	// 5. allocate
	var reservation *Reservation
	err = s.step(ctx, "allocate", s.cfg.CacheTimeout, func(ctx context.Context) error {
		var err error
		reservation, err = s.allocator.Allocate(ctx, tenant.ID, tenant.Settings.Shape())
		return err
	})
	if err != nil {
		logger.Error("Failed to allocate identifier", zap.Error(err))
		return nil, apierrors.Internal("Failed to generate unique ID", err)
	}
	bestellID := reservation.Identifier
	logger = logger.With(zap.String("bestell_id", bestellID))

	firstName := validation.StringField(payload, model.FieldKeyFirstName)
	lastName := validation.StringField(payload, model.FieldKeyLastName)

	// 6. external authority
	var customerID *string
	if dir := s.directories(tenant); dir != nil {
		var exists bool
		err = s.step(ctx, "authority_check", s.cfg.AuthorityTimeout, func(ctx context.Context) error {
			var err error
			exists, err = dir.Exists(ctx, bestellID)
			return err
		})
		if err != nil {
			s.release(ctx, reservation, "authority_check_failed", logger)
			logger.Error("Directory lookup failed", zap.Error(err))
			return nil, apierrors.ExternalService("Failed to verify identifier", nil, err)
		}
		if exists {
			s.release(ctx, reservation, "cross_system_collision", logger)
			s.metrics.RecordCollision(tenant.ID)
			logger.Warn("Reserved identifier already exists in directory; uniqueness domains have drifted")
			return nil, apierrors.Internal("ID collision detected, please try again", nil)
		}

		var id string
		err = s.step(ctx, "authority_upsert", s.cfg.AuthorityTimeout, func(ctx context.Context) error {
			var err error
			id, err = dir.Upsert(ctx, client.Customer{
				Email:      email,
				FirstName:  firstName,
				LastName:   lastName,
				Phone:      validation.StringField(payload, model.FieldKeyPhone),
				SocialName: socialName,
				BestellID:  bestellID,
			})
			return err
		})
		if err != nil {
			s.release(ctx, reservation, "authority_upsert_failed", logger)
			var messages []string
			if ue, ok := client.AsUserError(err); ok {
				messages = ue.Messages
			}
			logger.Error("Failed to create customer", zap.Strings("user_errors", messages), zap.Error(err))
			return nil, apierrors.ExternalService("Failed to create customer", messages, err)
		}
		customerID = &id
	}

	// 7. persist
	submission := &model.Submission{
		ID:         uuid.New().String(),
		FormID:     form.ID,
		TenantID:   tenant.ID,
		CustomerID: customerID,
		Email:      email,
		SocialName: socialName,
		BestellID:  bestellID,
		Payload:    payload,
		IPAddress:  req.ClientAddress,
		CreatedAt:  time.Now().UTC(),
	}
	err = s.step(ctx, "persist", s.cfg.StoreTimeout, func(ctx context.Context) error {
		return s.submissions.CreateSubmission(ctx, submission)
	})
	if err != nil {
		s.release(ctx, reservation, "persist_failed", logger)
		if customerID != nil {
			s.metrics.RecordReconciliationGap(tenant.ID)
			logger.Error("Reconciliation gap: directory customer written without a local submission",
				zap.String("customer_id", *customerID),
				zap.String("email", email),
				zap.Error(err))
		} else {
			logger.Error("Failed to save submission", zap.Error(err))
		}
		if errors.Is(err, store.ErrDuplicateIdentifier) {
			return nil, apierrors.Internal("ID collision detected, please try again", err)
		}
		return nil, apierrors.Internal("Failed to save submission", err)
	}

	logger.Info("Submission accepted",
		zap.String("submission_id", submission.ID),
		zap.Int("allocation_attempts", reservation.Attempts))

	// 8. notifications, after commit and off the request path
	if s.notifier != nil {
		s.notifier.Notify(notification.Notification{
			Tenant:     tenant,
			Form:       form,
			Submission: submission,
			FirstName:  firstName,
			LastName:   lastName,
		})
	}

	return &model.SubmissionResult{
		SubmissionID: submission.ID,
		BestellID:    bestellID,
		SocialName:   socialName,
		Email:        email,
	}, nil
}

// step runs fn under its own span and timeout and records its latency
func (s *SubmissionService) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "submission."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	s.metrics.ObserveStep(name, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
	}
	return err
}

// release compensates a failed submission. It runs even when ctx is already
// cancelled so a disconnected client does not hold the identifier for the full TTL.
func (s *SubmissionService) release(ctx context.Context, r *Reservation, reason string, logger *zap.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CacheTimeout)
	defer cancel()

	err := r.Release(releaseCtx)
	s.metrics.RecordRelease(reason, err)
	if err != nil {
		logger.Error("Failed to release reservation; it will expire on its own",
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	logger.Debug("Released reservation", zap.String("reason", reason))
}
