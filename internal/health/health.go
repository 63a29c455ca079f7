// Package health provides liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck tracks readiness of the dependencies the submission path needs.
type HealthCheck struct {
	checks        map[string]Pinger
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	failures      map[string]string
	lastCheck     time.Time
	checkInterval time.Duration
	checkTimeout  time.Duration
}

// NewHealthCheck creates a HealthCheck over the named dependencies.
// Call Run to keep the readiness state fresh in the background.
func NewHealthCheck(checks map[string]Pinger, interval time.Duration, logger *zap.Logger) *HealthCheck {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthCheck{
		checks:        checks,
		logger:        logger,
		failures:      make(map[string]string),
		checkInterval: interval,
		checkTimeout:  2 * time.Second,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready. When the cached state is not ready it
// re-checks synchronously before answering.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !hc.IsReady() {
		hc.Check(r.Context())
	}

	hc.mu.RLock()
	ready := hc.ready
	checks := make(map[string]string, len(hc.checks))
	for name := range hc.checks {
		if _, failed := hc.failures[name]; failed {
			checks[name] = "unhealthy"
		} else {
			checks[name] = "healthy"
		}
	}
	errMsg := hc.failureSummaryLocked()
	hc.mu.RUnlock()

	if ready {
		writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: checks})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
		Status: "not_ready",
		Checks: checks,
		Error:  errMsg,
	})
}

// Check pings every dependency once and updates the readiness state.
func (hc *HealthCheck) Check(ctx context.Context) bool {
	failures := make(map[string]string)
	for name, p := range hc.checks {
		pingCtx, cancel := context.WithTimeout(ctx, hc.checkTimeout)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			failures[name] = err.Error()
		}
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()
	wasReady := hc.ready
	hc.ready = len(failures) == 0
	hc.failures = failures
	hc.lastCheck = time.Now()

	if !hc.ready {
		hc.logger.Warn("health check failed", zap.Any("failures", failures))
	} else if !wasReady {
		hc.logger.Info("dependencies healthy")
	}
	return hc.ready
}

// Run checks dependencies on an interval until ctx is cancelled.
func (hc *HealthCheck) Run(ctx context.Context) {
	hc.Check(ctx)

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hc.Check(ctx)
		}
	}
}

// IsReady returns the current readiness status.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

func (hc *HealthCheck) failureSummaryLocked() string {
	if len(hc.failures) == 0 {
		return ""
	}
	names := make([]string, 0, len(hc.failures))
	for name := range hc.failures {
		names = append(names, name)
	}
	sort.Strings(names)
	summary := ""
	for i, name := range names {
		if i > 0 {
			summary += "; "
		}
		summary += name + ": " + hc.failures[name]
	}
	return summary
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
