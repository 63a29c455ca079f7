// Package main provides the entry point for the form submission service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tzomaik-art/form-builder/internal/client"
	"github.com/tzomaik-art/form-builder/internal/config"
	"github.com/tzomaik-art/form-builder/internal/handler"
	"github.com/tzomaik-art/form-builder/internal/health"
	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/notification"
	"github.com/tzomaik-art/form-builder/internal/server"
	"github.com/tzomaik-art/form-builder/internal/service"
	"github.com/tzomaik-art/form-builder/internal/store"
	"github.com/tzomaik-art/form-builder/internal/tracing"
	"github.com/tzomaik-art/form-builder/internal/validation"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load configuration", zap.Error(err))
	}

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting form submission service",
		zap.Int("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("reservation_cache", cfg.Redis.Backend))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		ServiceName: cfg.Tracing.ServiceName,
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open durable store", zap.Error(err))
	}
	defer db.Close()

	cache, err := store.OpenReservationCache(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect reservation cache", zap.Error(err))
	}
	defer cache.Close()

	configCache := store.NewConfigCache(cfg.Cache.MaxSize, logger)
	defer configCache.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	httpClient := &http.Client{Timeout: cfg.Shopify.Timeout}

	var emailSender notification.EmailSender
	if cfg.Notification.EmailAPIKey != "" {
		emailSender = notification.NewResendSender(
			cfg.Notification.EmailAPIKey,
			cfg.Notification.EmailFrom,
			cfg.Notification.EmailEndpoint,
			httpClient,
		)
	} else {
		logger.Warn("email API key not configured; confirmation emails are disabled")
	}

	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		Workers:         cfg.Notification.Workers,
		QueueSize:       cfg.Notification.QueueSize,
		MaxRetries:      cfg.Notification.MaxRetries,
		InitialInterval: cfg.Notification.InitialInterval,
		MaxInterval:     cfg.Notification.MaxInterval,
		AttemptTimeout:  cfg.Notification.AttemptTimeout,
	}, emailSender, notification.NewHTTPWebhookSender(httpClient), m, logger)

	shopify := client.NewShopifyFactory(client.ShopifyOptions{
		APIVersion: cfg.Shopify.APIVersion,
		BaseURL:    cfg.Shopify.BaseURL,
		HTTPClient: httpClient,
	}, logger)
	directories := func(tenant *model.Tenant) service.Directory {
		// avoid handing back a typed nil
		if dir := shopify.ForTenant(tenant); dir != nil {
			return dir
		}
		return nil
	}

	forms := service.NewFormService(db, configCache, cfg.Cache.TTL, m, logger)
	submissions := service.NewSubmissionService(
		forms,
		service.NewRateLimiter(cache, cfg.RateLimit.Window, logger),
		service.NewAllocator(cache, cfg.Reservation.TTL, cfg.Reservation.MaxAttempts, m, logger),
		validation.NewValidator(),
		db,
		directories,
		dispatcher,
		service.SubmissionConfig{
			CacheTimeout:     cfg.Submission.CacheTimeout,
			AuthorityTimeout: cfg.Submission.AuthorityTimeout,
			StoreTimeout:     cfg.Submission.StoreTimeout,
		},
		m,
		tracing.Tracer(),
		logger,
	)

	healthCheck := health.NewHealthCheck(map[string]health.Pinger{
		"reservation_cache": cache,
		"database":          db,
	}, cfg.Health.CheckInterval, logger)

	srv := server.NewServer(cfg, handler.NewHandlers(submissions, forms, cfg.RateLimit.Window, logger), healthCheck, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		healthCheck.Run(gctx)
		return nil
	})
	g.Go(srv.Start)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(cfg.Metrics, m)
		g.Go(func() error {
			logger.Info("starting metrics server",
				zap.String("address", metricsServer.Addr),
				zap.String("path", cfg.Metrics.Path))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown metrics server", zap.Error(err))
			}
		}
		// in-flight requests are done; drain queued notifications
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			logger.Warn("notification queue not fully drained", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("form submission service stopped")
}

// initLogger builds the zap logger from the logging section.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stdout"}
	zcfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := zcfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
