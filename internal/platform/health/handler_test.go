package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestReadiness(t *testing.T) {
	t.Run("optional store failure keeps the service ready", func(t *testing.T) {
		h := New("test", func() string { return "fallback" })
		h.RegisterCheck("local_store", func(context.Context) error { return nil })
		h.RegisterOptionalCheck("remote_store", func(context.Context) error { return errors.New("connection refused") })

		w, body := serve(t, h, "/health/ready")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "fallback", body["store_mode"])
		checks := body["checks"].(map[string]any)
		assert.Equal(t, "up", checks["local_store"])
		assert.Equal(t, "degraded: connection refused", checks["remote_store"])
	})

	t.Run("critical failure is not ready", func(t *testing.T) {
		h := New("test", nil)
		h.RegisterCheck("local_store", func(context.Context) error { return errors.New("disk full") })

		w, body := serve(t, h, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "not_ready", body["status"])
	})
}

func TestStatusReportsDegradedMode(t *testing.T) {
	mode := "remote"
	h := New("test", func() string { return mode })

	_, body := serve(t, h, "/health")
	assert.Equal(t, "healthy", body["status"])

	mode = "fallback"
	_, body = serve(t, h, "/health")
	assert.Equal(t, "degraded", body["status"])
}

func TestLiveness(t *testing.T) {
	w, body := serve(t, New("test", nil), "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", body["status"])
}
