package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tzomaik-art/form-builder/internal/config"
	"github.com/tzomaik-art/form-builder/internal/handler"
	"github.com/tzomaik-art/form-builder/internal/health"
	"github.com/tzomaik-art/form-builder/internal/metrics"
	"github.com/tzomaik-art/form-builder/internal/model"
	"github.com/tzomaik-art/form-builder/internal/service"
	"github.com/tzomaik-art/form-builder/internal/store"
	"github.com/tzomaik-art/form-builder/internal/validation"
)

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore) {
	t.Helper()
	logger := zap.NewNop()
	ctx := context.Background()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.AllowedOrigins = []string{"https://demo.example.com"}

	db, err := store.OpenSQLiteStore(filepath.Join(t.TempDir(), "server.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.UpsertTenant(ctx, &model.Tenant{
		ID:       "demo",
		Shop:     "demo.myshopify.com",
		Settings: model.TenantSettings{BestellIDLength: 5, RateLimit: 2},
	}))
	require.NoError(t, db.UpsertForm(ctx, &model.Form{
		ID:       "form-1",
		TenantID: "demo",
		Name:     "Customer Registration",
		Slug:     "register",
		Fields: []model.Field{
			{ID: "social_name", Type: model.FieldSocialName, Label: "Social Name", Required: true},
			{ID: "email", Type: model.FieldEmail, Label: "Email", Required: true},
		},
		Active: true,
	}))

	cache := store.NewInMemoryReservationCache(logger)
	t.Cleanup(func() { _ = cache.Close() })
	configCache := store.NewConfigCache(100, logger)
	t.Cleanup(configCache.Close)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	forms := service.NewFormService(db, configCache, time.Minute, m, logger)
	submissions := service.NewSubmissionService(
		forms,
		service.NewRateLimiter(cache, cfg.RateLimit.Window, logger),
		service.NewAllocator(cache, cfg.Reservation.TTL, cfg.Reservation.MaxAttempts, m, logger),
		validation.NewValidator(),
		db,
		nil,
		nil,
		service.SubmissionConfig{},
		m,
		noop.NewTracerProvider().Tracer("test"),
		logger,
	)

	hc := health.NewHealthCheck(map[string]health.Pinger{"cache": cache, "database": db}, time.Second, logger)
	h := handler.NewHandlers(submissions, forms, cfg.RateLimit.Window, logger)
	return NewServer(cfg, h, hc, m, logger), db
}

func post(s *Server, path, body, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", client)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_SubmitFlow(t *testing.T) {
	s, db := newTestServer(t)
	const path = "/v1/tenants/demo/forms/register/submissions"

	w := post(s, path, `{"social_name":"Ada","email":"ada@example.com"}`, "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var result model.SubmissionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Regexp(t, `^[1-9][0-9]{4}$`, result.BestellID)

	sub, err := db.GetSubmissionByBestellID(context.Background(), "demo", result.BestellID)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", sub.IPAddress)

	w = post(s, path, `{"social_name":"Grace","email":"grace@example.com"}`, "203.0.113.7")
	require.Equal(t, http.StatusOK, w.Code)

	w = post(s, path, `{"social_name":"Linus","email":"linus@example.com"}`, "203.0.113.7")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	count, err := db.CountSubmissions(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestServer_ValidationAndNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	w := post(s, "/v1/tenants/demo/forms/register/submissions", `{"social_name":"Ada"}`, "198.51.100.1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body handler.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "VALIDATION_ERROR", string(body.Code))

	w = post(s, "/v1/tenants/demo/forms/missing/submissions", `{}`, "198.51.100.1")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_GetFormAndPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/tenants/demo/forms/register", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"slug":"register"`)

	req := httptest.NewRequest(http.MethodOptions, "/v1/tenants/demo/forms/register/submissions", nil)
	req.Header.Set("Origin", "https://demo.example.com")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://demo.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
