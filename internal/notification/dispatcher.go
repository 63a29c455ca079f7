package notification

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/util/workerpool"
)

const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Notification is everything needed to notify about one persisted submission
type Notification struct {
	Tenant     *model.Tenant
	Form       *model.Form
	Submission *model.Submission
	FirstName  string
	LastName   string
}

// DispatcherConfig holds retry and queue settings
type DispatcherConfig struct {
	Workers         int
	QueueSize       int
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds a single delivery attempt
	AttemptTimeout time.Duration
}

// Dispatcher hands notifications to a bounded worker pool and retries
// transient delivery failures with exponential backoff.
type Dispatcher struct {
	pool    *workerpool.WorkerPool
	email   EmailSender
	webhook WebhookSender
	cfg     DispatcherConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDispatcher starts a dispatcher. email may be nil to disable email delivery.
func NewDispatcher(
	cfg DispatcherConfig,
	email EmailSender,
	webhook WebhookSender,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}

	d := &Dispatcher{
		email:   email,
		webhook: webhook,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
	d.pool = workerpool.NewWorkerPool(workerpool.Config{
		Name:       "notifications",
		MaxWorkers: cfg.Workers,
		QueueSize:  cfg.QueueSize,
		Logger:     logger,
		Hooks: workerpool.Hooks{
			OnDone: func(task workerpool.Task, err error, _ time.Duration) {
				status := "delivered"
				if err != nil {
					status = "failed"
				}
				d.metrics.RecordNotification(task.Kind, status)
			},
			OnReject: func(task workerpool.Task, err error) {
				d.metrics.RecordNotificationDrop(task.Kind)
				d.logger.Warn("Notification dropped",
					zap.String("channel", task.Kind),
					zap.String("task_id", task.ID),
					zap.Error(err))
			},
		},
	})
	return d
}

// Notify enqueues the email and webhook deliveries enabled for the tenant.
// It never blocks on delivery.
func (d *Dispatcher) Notify(n Notification) {
	sub := n.Submission
	settings := n.Tenant.Settings

	if settings.EmailEnabled && d.email != nil {
		vars := NewVariables(n.Tenant, sub, n.FirstName, n.LastName)
		rendered := RenderTemplate(TemplateFor(n.Tenant, n.Form), vars)
		email := Email{To: sub.Email, Subject: rendered.Subject, Text: rendered.Body}

		_ = d.pool.Submit(workerpool.Task{
			ID:   sub.ID,
			Kind: ChannelEmail,
			Fn: func(ctx context.Context) error {
				return d.deliver(ctx, ChannelEmail, sub, func(ctx context.Context) error {
					return d.email.Send(ctx, email)
				})
			},
		})
	}

	if settings.WebhookURL != "" && d.webhook != nil {
		url := settings.WebhookURL
		payload := WebhookPayload{
			FormID:       sub.FormID,
			SubmissionID: sub.ID,
			SocialName:   sub.SocialName,
			BestellID:    sub.BestellID,
			Email:        sub.Email,
			Payload:      sub.Payload,
		}

		_ = d.pool.Submit(workerpool.Task{
			ID:   sub.ID,
			Kind: ChannelWebhook,
			Fn: func(ctx context.Context) error {
				return d.deliver(ctx, ChannelWebhook, sub, func(ctx context.Context) error {
					return d.webhook.Send(ctx, url, payload)
				})
			},
		})
	}
}

// deliver runs attempt with retries; 4xx responses are not retried
func (d *Dispatcher) deliver(ctx context.Context, channel string, sub *model.Submission, attempt func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval

	operation := func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		defer cancel()

		err := attempt(attemptCtx)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.MaxRetries)+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Debug("Retrying notification",
				zap.String("channel", channel),
				zap.String("submission_id", sub.ID),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	if err != nil {
		d.logger.Warn("Notification delivery failed",
			zap.String("channel", channel),
			zap.String("tenant_id", sub.TenantID),
			zap.String("submission_id", sub.ID),
			zap.String("bestell_id", sub.BestellID),
			zap.Error(err))
	}
	return err
}

// Stop drains queued notifications until ctx expires
func (d *Dispatcher) Stop(ctx context.Context) error {
	return d.pool.Stop(ctx)
}
