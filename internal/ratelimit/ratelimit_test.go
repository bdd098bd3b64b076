package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"objectmap/pkg/platform/httputil"
	"objectmap/pkg/platform/middleware/metadata"
)

const (
	testLimit  = 3
	testWindow = time.Minute
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	now   time.Time
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return s.now }
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) TestAllowUpToLimit() {
	for i := range testLimit {
		result, err := s.store.Allow(s.ctx, "k", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-i-1, result.Remaining)
	}

	result, err := s.store.Allow(s.ctx, "k", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(60, result.RetryAfter)
}

func (s *InMemoryStoreSuite) TestWindowSlides() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "k", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.now = s.now.Add(testWindow + time.Second)

	result, err := s.store.Allow(s.ctx, "k", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *InMemoryStoreSuite) TestKeysAreIndependent() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "a", testLimit, testWindow)
		s.Require().NoError(err)
	}
	result, err := s.store.Allow(s.ctx, "b", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *InMemoryStoreSuite) TestConcurrentCallersNeverExceedLimit() {
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "k", 10, testWindow)
			if err == nil && result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(10, allowed)
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/admin/registry/freeze", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	metadata.ClientMetadata(h).ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	m := New(NewInMemoryStore(), nil, WithLimit(ClassPrivileged, Limit{Requests: 2, Window: time.Minute}))
	h := m.Limit(ClassPrivileged)(okHandler())

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
	rec := serve(h, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(h, "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	var body httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body.Error)

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.2").Code)
}

func TestMiddlewarePassThrough(t *testing.T) {
	limited := Limit{Requests: 1, Window: time.Minute}

	t.Run("unconfigured class", func(t *testing.T) {
		h := New(NewInMemoryStore(), nil, WithLimit(ClassPrivileged, limited)).Limit(ClassRead)(okHandler())
		for range 3 {
			assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		h := New(NewInMemoryStore(), nil, WithLimit(ClassRead, limited), WithDisabled(true)).Limit(ClassRead)(okHandler())
		for range 3 {
			assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
		}
	})

	t.Run("store failure fails open", func(t *testing.T) {
		h := New(failingStore{}, nil, WithLimit(ClassRead, limited)).Limit(ClassRead)(okHandler())
		assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
	})
}
