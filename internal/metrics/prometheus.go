// Package metrics provides Prometheus metrics for the submission service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	// Pipeline metrics
	SubmissionsTotal      *prometheus.CounterVec
	StepDuration          *prometheus.HistogramVec
	AllocationAttempts    prometheus.Histogram
	ReservationReleases   *prometheus.CounterVec
	RateLimitRejections   *prometheus.CounterVec
	CrossSystemCollisions *prometheus.CounterVec
	ReconciliationGaps    *prometheus.CounterVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec
	NotificationDrops  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// NewMetrics creates metrics registered on reg. Pass prometheus.NewRegistry()
// in tests to avoid collisions with the default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "form_builder_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: latencyBuckets,
			},
			[]string{"method", "route"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "form_builder_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_submissions_total",
				Help: "Total number of submissions by outcome code",
			},
			[]string{"tenant_id", "code"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "form_builder_submission_step_duration_seconds",
				Help:    "Duration of each submission pipeline step",
				Buckets: latencyBuckets,
			},
			[]string{"step"},
		),
		AllocationAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "form_builder_allocation_attempts",
				Help:    "Number of candidate draws needed per allocation",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 20},
			},
		),
		ReservationReleases: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_reservation_releases_total",
				Help: "Total number of compensating reservation releases",
			},
			[]string{"reason", "status"},
		),
		RateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_rate_limit_rejections_total",
				Help: "Total number of submissions rejected by the per-client window",
			},
			[]string{"tenant_id"},
		),
		CrossSystemCollisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_cross_system_collisions_total",
				Help: "Reserved identifiers already present in the external directory",
			},
			[]string{"tenant_id"},
		),
		ReconciliationGaps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_reconciliation_gaps_total",
				Help: "External entities written without a local submission record",
			},
			[]string{"tenant_id"},
		),

		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_notifications_total",
				Help: "Total number of notification deliveries",
			},
			[]string{"channel", "status"},
		),
		NotificationDrops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "form_builder_notification_drops_total",
				Help: "Notifications dropped because the dispatch queue was full",
			},
			[]string{"channel"},
		),

		gatherer: reg,
	}
}

// Handler serves the metrics registered on this instance
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests gauge
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests gauge
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordSubmission records the terminal outcome of a submission
func (m *Metrics) RecordSubmission(tenantID, code string) {
	m.SubmissionsTotal.WithLabelValues(tenantID, code).Inc()
}

// ObserveStep records the duration of a pipeline step
func (m *Metrics) ObserveStep(step string, duration time.Duration) {
	m.StepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// ObserveAllocationAttempts records how many draws an allocation took
func (m *Metrics) ObserveAllocationAttempts(attempts int) {
	m.AllocationAttempts.Observe(float64(attempts))
}

// RecordRelease records a compensating release
func (m *Metrics) RecordRelease(reason string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ReservationReleases.WithLabelValues(reason, status).Inc()
}

func (m *Metrics) RecordRateLimited(tenantID string) {
	m.RateLimitRejections.WithLabelValues(tenantID).Inc()
}

func (m *Metrics) RecordCollision(tenantID string) {
	m.CrossSystemCollisions.WithLabelValues(tenantID).Inc()
}

func (m *Metrics) RecordReconciliationGap(tenantID string) {
	m.ReconciliationGaps.WithLabelValues(tenantID).Inc()
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordNotification records a delivery attempt outcome for a channel
func (m *Metrics) RecordNotification(channel, status string) {
	m.NotificationsTotal.WithLabelValues(channel, status).Inc()
}

// RecordNotificationDrop records a notification rejected by a full queue
func (m *Metrics) RecordNotificationDrop(channel string) {
	m.NotificationDrops.WithLabelValues(channel).Inc()
}
