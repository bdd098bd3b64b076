package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	request "objectmap/pkg/platform/middleware/request"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestDrainToggle(t *testing.T) {
	srv := New(Config{MetricsHandler: http.NotFoundHandler()}, nil)
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/livez").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	assert.Equal(t, http.StatusOK, get(t, h, "/drain").Code)
	assert.False(t, srv.IsReady())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.Contains(t, get(t, h, "/drain").Body.String(), "already draining")

	assert.Equal(t, http.StatusOK, get(t, h, "/undrain").Code)
	assert.True(t, srv.IsReady())
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
}

func TestReadinessChecks(t *testing.T) {
	healthy := true
	srv := New(Config{
		MetricsHandler: http.NotFoundHandler(),
		Checks: map[string]HealthCheck{
			"postgres": func(context.Context) error {
				if healthy {
					return nil
				}
				return errors.New("connection refused")
			},
		},
	}, nil)

	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/readyz").Code)
	healthy = false
	rr := get(t, srv.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "postgres")
}

func TestMountedRoutesGetRequestID(t *testing.T) {
	srv := New(Config{MetricsHandler: http.NotFoundHandler()}, func(r chi.Router) {
		r.Get("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(request.GetRequestID(r.Context())))
		})
	})
	rr := get(t, srv.Handler(), "/v1/ping")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Body.String())
	assert.Equal(t, rr.Body.String(), rr.Header().Get(request.HeaderRequestID))
}
