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

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body ReadinessResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestReadiness(t *testing.T) {
	t.Run("ready when all checks pass", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("redis", func(context.Context) error { return nil })

		w, body := serve(t, h, "/health/ready")

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "up", body.Checks["redis"])
	})

	t.Run("not ready when one check fails", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("redis", func(context.Context) error { return nil })
		h.RegisterCheck("kafka", func(context.Context) error { return errors.New("no brokers reachable") })

		w, body := serve(t, h, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, "down: no brokers reachable", body.Checks["kafka"])
	})

	t.Run("checks receive a deadline", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("db", func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				return errors.New("no deadline")
			}
			return nil
		})

		w, _ := serve(t, h, "/health/ready")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLivenessAndStatus(t *testing.T) {
	h := New("staging")

	w, _ := serve(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = serve(t, h, "/health")
	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "staging", status.Environment)
	assert.Equal(t, "healthy", status.Status)
}
