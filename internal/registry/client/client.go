// Package client talks to the registry HTTP API. The pipeline uses it to populate,
// operators use it to freeze and inspect.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"objectmap/internal/registry/handler"
	"objectmap/internal/registry/models"
	dErrors "objectmap/pkg/domain-errors"
	"objectmap/pkg/platform/httputil"
	"objectmap/pkg/platform/middleware/credential"
	"objectmap/pkg/platform/middleware/request"
	"objectmap/pkg/requestcontext"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL     string
	pipelineKey string
	httpClient  *http.Client
}

type Option func(*Client)

// WithPipelineKey sets the credential sent on Add.
func WithPipelineKey(key string) Option {
	return func(c *Client) { c.pipelineKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response. Registry failures unwrap to the matching models
// sentinel, so errors.Is(err, models.ErrDuplicateEntry) works across the wire.
type APIError struct {
	StatusCode  int
	Name        string
	Description string
	err         error
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s (%d): %s", e.Name, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("%s (%d)", e.Name, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// Status returns the registry lifecycle state.
func (c *Client) Status(ctx context.Context) (*handler.StatusResponse, error) {
	var out handler.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/registry", nil, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup resolves number to its object id. Fails with models.ErrNotFrozen until frozen.
func (c *Client) Lookup(ctx context.Context, number models.Number) (models.ObjectID, error) {
	var out handler.EntryResponse
	path := "/v1/registry/entries/" + strconv.FormatUint(uint64(number), 10)
	if err := c.do(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &out); err != nil {
		return models.ObjectID{}, err
	}
	id, err := models.ParseObjectID(out.ObjectID)
	if err != nil {
		return models.ObjectID{}, fmt.Errorf("failed to parse lookup response: %w", err)
	}
	return id, nil
}

// List returns one page starting at from. limit <= 0 uses the server default.
func (c *Client) List(ctx context.Context, from models.Number, limit int) (*handler.ListResponse, error) {
	q := url.Values{}
	if from > 0 {
		q.Set("from", strconv.FormatUint(uint64(from), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/registry/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out handler.ListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListAll follows Next until the table is exhausted.
func (c *Client) ListAll(ctx context.Context, pageSize int) ([]handler.EntryResponse, error) {
	var all []handler.EntryResponse
	from := models.Number(1)
	for {
		page, err := c.List(ctx, from, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Entries...)
		if page.Next == nil {
			return all, nil
		}
		from = models.Number(*page.Next)
	}
}

// Add binds number to id using the pipeline key.
func (c *Client) Add(ctx context.Context, number models.Number, id models.ObjectID) error {
	body := handler.AddEntryRequest{Number: uint32(number), ObjectID: id.String()}
	headers := map[string]string{credential.HeaderPipelineKey: c.pipelineKey}
	return c.do(ctx, http.MethodPost, "/internal/registry/entries", headers, body, http.StatusCreated, nil)
}

// Freeze presents capability on behalf of caller.
func (c *Client) Freeze(ctx context.Context, capability, caller string) (*handler.StatusResponse, error) {
	headers := map[string]string{
		"Authorization":        "Bearer " + capability,
		handler.HeaderCallerID: caller,
	}
	var out handler.StatusResponse
	if err := c.do(ctx, http.MethodPost, "/admin/registry/freeze", headers, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		req.Header.Set(request.HeaderRequestID, requestID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, fmt.Sprintf("%s %s failed", method, path))
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBodyBytes))
	var envelope httputil.ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Name:        http.StatusText(resp.StatusCode),
			Description: strings.TrimSpace(string(raw)),
			err:         dErrors.New(codeForStatus(resp.StatusCode), strings.TrimSpace(string(raw))),
		}
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Name: envelope.Error, Description: envelope.ErrorDescription}
	if sentinel := models.ErrorFromKind(envelope.Error); sentinel != nil {
		apiErr.err = sentinel
	} else {
		apiErr.err = dErrors.New(dErrors.Code(envelope.Error), envelope.ErrorDescription)
	}
	return apiErr
}

func codeForStatus(status int) dErrors.Code {
	switch {
	case status == http.StatusUnauthorized:
		return dErrors.CodeUnauthorized
	case status == http.StatusNotFound:
		return dErrors.CodeNotFound
	case status == http.StatusServiceUnavailable:
		return dErrors.CodeUnavailable
	case status >= 400 && status < 500:
		return dErrors.CodeBadRequest
	default:
		return dErrors.CodeInternal
	}
}
