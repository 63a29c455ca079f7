package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(context.Context) error {
	return s.err
}

func TestHealthCheck_LivenessHandler(t *testing.T) {
	hc := NewHealthCheck(nil, time.Second, zap.NewNop())

	w := httptest.NewRecorder()
	hc.LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthCheck_Readiness(t *testing.T) {
	cache := &stubPinger{}
	db := &stubPinger{err: errors.New("connection refused")}
	hc := NewHealthCheck(map[string]Pinger{"cache": cache, "database": db}, time.Second, zap.NewNop())

	t.Run("initially not ready", func(t *testing.T) {
		assert.False(t, hc.IsReady())
	})

	t.Run("reports failing dependency", func(t *testing.T) {
		w := httptest.NewRecorder()
		hc.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "not_ready", resp.Status)
		assert.Equal(t, "healthy", resp.Checks["cache"])
		assert.Equal(t, "unhealthy", resp.Checks["database"])
		assert.Contains(t, resp.Error, "database: connection refused")
	})

	t.Run("recovers once dependency is back", func(t *testing.T) {
		db.err = nil
		w := httptest.NewRecorder()
		hc.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, hc.IsReady())
	})
}

func TestHealthCheck_RunStopsWithContext(t *testing.T) {
	hc := NewHealthCheck(map[string]Pinger{"cache": &stubPinger{}}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hc.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, hc.IsReady, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
