package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"objectmap/internal/authority"
	"objectmap/internal/collection"
	"objectmap/internal/ratelimit"
	"objectmap/internal/registry/models"
	regservice "objectmap/internal/registry/service"
	"objectmap/internal/registry/store"
	"objectmap/pkg/platform/middleware/credential"
	"objectmap/pkg/platform/middleware/metadata"
	request "objectmap/pkg/platform/middleware/request"
	"objectmap/pkg/testutil"
)

const size = 3

type HandlerSuite struct {
	suite.Suite
	router      chi.Router
	pipelineKey string
	capability  string
	caps        *authority.Capabilities
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupSuite() {
	key, err := authority.GenerateKey()
	s.Require().NoError(err)
	s.pipelineKey = key
	s.caps = authority.NewCapabilities(strings.Repeat("k", 32), "objectmap-test", "cap-1")
	s.capability, err = s.caps.Mint("admin", 0)
	s.Require().NoError(err)
}

func (s *HandlerSuite) SetupTest() {
	hash, err := authority.HashKey(s.pipelineKey)
	s.Require().NoError(err)
	sizes, err := collection.NewStatic(size)
	s.Require().NoError(err)

	svc := regservice.New(store.NewInMemory(), sizes, s.caps)
	_, err = svc.Bootstrap(context.Background(), "pipeline")
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Time)
	New(svc, authority.NewPipelineKeys(hash), slog.New(slog.DiscardHandler)).Register(r)
	s.router = r
}

func objectIDHex(n uint32) string {
	return models.ObjectID(testutil.ObjectIDBytes(n)).String()
}

func (s *HandlerSuite) add(n uint32, key string) *http.Response {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/internal/registry/entries", map[string]any{
		"number":    n,
		"object_id": objectIDHex(n),
	})
	if key != "" {
		req.Header.Set(credential.HeaderPipelineKey, key)
	}
	return testutil.DoRequest(s.router, req).Result()
}

func (s *HandlerSuite) freeze(capability, caller string) *http.Request {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/admin/registry/freeze", nil)
	if capability != "" {
		req.Header.Set("Authorization", "Bearer "+capability)
	}
	req.Header.Set(HeaderCallerID, caller)
	return req
}

func (s *HandlerSuite) populate() {
	for n := uint32(1); n <= size; n++ {
		s.Require().Equal(http.StatusCreated, s.add(n, s.pipelineKey).StatusCode)
	}
}

func (s *HandlerSuite) TestStatus() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registry", nil))
	s.Require().Equal(http.StatusOK, rr.Code)
	s.NotEmpty(rr.Header().Get(request.HeaderRequestID))

	body := testutil.UnmarshalResponse[StatusResponse](s.T(), rr)
	s.Equal(size, body.Size)
	s.Equal("empty", body.Phase)
	s.Equal("mutable", body.Ownership)
}

func (s *HandlerSuite) TestAdd() {
	s.Run("requires the pipeline key", func() {
		s.Equal(http.StatusUnauthorized, s.add(1, "").StatusCode)
		s.Equal(http.StatusUnauthorized, s.add(1, "not-the-key").StatusCode)
	})

	s.Run("stores an entry", func() {
		s.Equal(http.StatusCreated, s.add(1, s.pipelineKey).StatusCode)
	})

	s.Run("duplicate is a conflict", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/internal/registry/entries", map[string]any{
			"number":    1,
			"object_id": objectIDHex(9),
		})
		req.Header.Set(credential.HeaderPipelineKey, s.pipelineKey)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusConflict, "duplicate_entry")
	})

	s.Run("out of range is invalid_number", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/internal/registry/entries", map[string]any{
			"number":    size + 1,
			"object_id": objectIDHex(1),
		})
		req.Header.Set(credential.HeaderPipelineKey, s.pipelineKey)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "invalid_number")
	})

	s.Run("malformed object id is a validation error", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/internal/registry/entries", `{"number":2,"object_id":"0x1234"}`)
		req.Header.Set(credential.HeaderPipelineKey, s.pipelineKey)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "validation_error")
	})

	s.Run("malformed body is a bad request", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/internal/registry/entries", `{"number":`)
		req.Header.Set(credential.HeaderPipelineKey, s.pipelineKey)
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, req), http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestLifecycle() {
	lookup := func(n string) *http.Request {
		return testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registry/entries/"+n, nil)
	}

	s.Run("lookup before freeze is not_frozen", func() {
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, lookup("1")), http.StatusConflict, "not_frozen")
	})

	s.Run("lookup of a non-number is invalid_number", func() {
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, lookup("abc")), http.StatusBadRequest, "invalid_number")
	})

	s.Run("freeze before population is not_initialized", func() {
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, s.freeze(s.capability, "admin")), http.StatusConflict, "not_initialized")
	})

	s.populate()

	s.Run("add after population is a conflict", func() {
		s.Equal(http.StatusConflict, s.add(2, s.pipelineKey).StatusCode)
	})

	s.Run("freeze without the capability is unauthorized", func() {
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, s.freeze("", "admin")), http.StatusUnauthorized, "unauthorized")
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, s.freeze(s.capability, "mallory")), http.StatusUnauthorized, "unauthorized")
	})

	s.Run("freeze with the capability succeeds once", func() {
		rr := testutil.DoRequest(s.router, s.freeze(s.capability, "admin"))
		s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
		body := testutil.UnmarshalResponse[StatusResponse](s.T(), rr)
		s.True(body.Frozen)
		s.Equal("shared", body.Ownership)

		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, s.freeze(s.capability, "admin")), http.StatusConflict, "already_frozen")
	})

	s.Run("lookup after freeze returns the bound id", func() {
		for n := uint32(1); n <= size; n++ {
			rr := testutil.DoRequest(s.router, lookup(fmt.Sprint(n)))
			s.Require().Equal(http.StatusOK, rr.Code)
			body := testutil.UnmarshalResponse[EntryResponse](s.T(), rr)
			s.Equal(objectIDHex(n), body.ObjectID)
		}
		testutil.AssertStatusAndError(s.T(), testutil.DoRequest(s.router, lookup("4")), http.StatusBadRequest, "invalid_number")
	})

	s.Run("list pages through entries", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registry/entries?from=1&limit=2", nil))
		s.Require().Equal(http.StatusOK, rr.Code)
		page := testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Len(page.Entries, 2)
		s.Require().NotNil(page.Next)
		s.Equal(uint32(3), *page.Next)

		rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registry/entries?from=3&limit=2", nil))
		s.Require().Equal(http.StatusOK, rr.Code)
		page = testutil.UnmarshalResponse[ListResponse](s.T(), rr)
		s.Len(page.Entries, 1)
		s.Nil(page.Next)

		rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registry/entries?limit=zero", nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})
}

func (s *HandlerSuite) TestPrivilegedEndpointsAreThrottled() {
	hash, err := authority.HashKey(s.pipelineKey)
	s.Require().NoError(err)
	sizes, err := collection.NewStatic(size)
	s.Require().NoError(err)
	svc := regservice.New(store.NewInMemory(), sizes, s.caps)
	_, err = svc.Bootstrap(context.Background(), "pipeline")
	s.Require().NoError(err)

	limiter := ratelimit.New(ratelimit.NewInMemoryStore(), nil,
		ratelimit.WithLimit(ratelimit.ClassPrivileged, ratelimit.Limit{Requests: 1, Window: time.Minute}))
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	New(svc, authority.NewPipelineKeys(hash), slog.New(slog.DiscardHandler), WithLimiter(limiter)).Register(r)

	rr := testutil.DoRequest(r, s.freeze("forged", "admin"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	rr = testutil.DoRequest(r, s.freeze("forged", "admin"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusTooManyRequests, "rate_limit_exceeded")

	for range 3 {
		rr = testutil.DoRequest(r, testutil.NewJSONRequest(s.T(), http.MethodGet, "/v1/registry", nil))
		s.Equal(http.StatusOK, rr.Code)
	}
}
