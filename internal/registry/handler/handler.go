// Package handler exposes the registry over HTTP.
//
// Reads are public and gated by the registry's own lifecycle. Population is
// mounted behind the pipeline key; freeze takes the capability as a bearer token.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"objectmap/internal/ratelimit"
	"objectmap/internal/registry/models"
	regservice "objectmap/internal/registry/service"
	dErrors "objectmap/pkg/domain-errors"
	"objectmap/pkg/platform/httputil"
	"objectmap/pkg/platform/middleware/credential"
	"objectmap/pkg/platform/middleware/metadata"
	"objectmap/pkg/requestcontext"
)

// HeaderCallerID names the principal presenting the freeze capability.
const HeaderCallerID = "X-Caller-ID"

// Service defines the registry operations the handler needs.
type Service interface {
	Status(ctx context.Context) (*models.Registry, error)
	Lookup(ctx context.Context, number models.Number) (models.ObjectID, error)
	List(ctx context.Context, from models.Number, limit int) ([]models.Entry, error)
	Add(ctx context.Context, number models.Number, id models.ObjectID) error
	Freeze(ctx context.Context, capability, caller string) (*models.Registry, error)
}

// Limiter throttles a class of endpoints.
type Limiter interface {
	Limit(class ratelimit.Class) func(http.Handler) http.Handler
}

// Handler wires registry endpoints to the registry service.
type Handler struct {
	service  Service
	pipeline credential.KeyVerifier
	logger   *slog.Logger
	limiter  Limiter
}

type Option func(*Handler)

// WithLimiter throttles reads and privileged writes per client.
func WithLimiter(l Limiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// New constructs a registry handler. pipeline verifies the X-Pipeline-Key header.
func New(service Service, pipeline credential.KeyVerifier, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:  service,
		pipeline: pipeline,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts registry endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		h.limit(r, ratelimit.ClassRead)
		r.Get("/v1/registry", h.HandleStatus)
		r.Get("/v1/registry/entries", h.HandleList)
		r.Get("/v1/registry/entries/{number}", h.HandleLookup)
	})
	r.Group(func(r chi.Router) {
		h.limit(r, ratelimit.ClassPrivileged)
		r.With(credential.RequirePipelineKey(h.pipeline, h.logger)).
			Post("/internal/registry/entries", h.HandleAdd)
		r.Post("/admin/registry/freeze", h.HandleFreeze)
	})
}

func (h *Handler) limit(r chi.Router, class ratelimit.Class) {
	if h.limiter != nil {
		r.Use(h.limiter.Limit(class))
	}
}

// HandleStatus handles GET /v1/registry.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	reg, err := h.service.Status(r.Context())
	if err != nil {
		h.writeError(w, r, "status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromRegistry(reg))
}

// HandleLookup handles GET /v1/registry/entries/{number}.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	number, err := models.ParseNumber(chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, r, "lookup", err)
		return
	}
	id, err := h.service.Lookup(r.Context(), number)
	if err != nil {
		h.writeError(w, r, "lookup", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, EntryResponse{Number: uint32(number), ObjectID: id.String()})
}

// HandleList handles GET /v1/registry/entries?from=&limit=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from := models.Number(1)
	if raw := r.URL.Query().Get("from"); raw != "" {
		n, err := models.ParseNumber(raw)
		if err != nil {
			h.writeError(w, r, "list", err)
			return
		}
		from = n
	}
	limit := regservice.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, r, "list", dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	entries, err := h.service.List(ctx, from, limit)
	if err != nil {
		h.writeError(w, r, "list", err)
		return
	}
	reg, err := h.service.Status(ctx)
	if err != nil {
		h.writeError(w, r, "list", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntries(entries, limit, reg.Size))
}

// HandleAdd handles POST /internal/registry/entries.
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[AddEntryRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.Add(ctx, models.Number(req.Number), req.ParsedObjectID()); err != nil {
		h.writeError(w, r, "add", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, EntryResponse{Number: req.Number, ObjectID: req.ObjectID})
}

// HandleFreeze handles POST /admin/registry/freeze.
func (h *Handler) HandleFreeze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	caller := strings.TrimSpace(r.Header.Get(HeaderCallerID))
	capability := bearerToken(r)
	ctx = requestcontext.WithCallerID(ctx, caller)

	reg, err := h.service.Freeze(ctx, capability, caller)
	if err != nil {
		h.writeError(w, r.WithContext(ctx), "freeze", err)
		return
	}

	h.logger.InfoContext(ctx, "registry frozen",
		"request_id", requestcontext.RequestID(ctx),
		"caller", caller,
		"client_ip", metadata.GetClientIP(ctx),
		"size", reg.Size,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromRegistry(reg))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// writeError names registry failures by kind and everything else by code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	ctx := r.Context()
	level := slog.LevelInfo
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, "registry request failed",
		"operation", operation,
		"request_id", requestcontext.RequestID(ctx),
		"client_ip", metadata.GetClientIP(ctx),
		"error", err,
	)
	if kind := models.ErrorKind(err); kind != "" {
		httputil.WriteErrorAs(w, err, kind)
		return
	}
	httputil.WriteError(w, err)
}
