package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "objectmap/pkg/domain-errors"
	"objectmap/pkg/platform/httputil"
	"objectmap/pkg/platform/middleware/metadata"
)

var deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "objectmap_ratelimit_denied_total",
	Help: "Requests rejected by the per-IP rate limiter",
}, []string{"class"})

type Middleware struct {
	store    Store
	limits   map[Class]Limit
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns every check into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithLimit(class Class, limit Limit) Option {
	return func(m *Middleware) {
		m.limits[class] = limit
	}
}

func New(store Store, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		limits: map[Class]Limit{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	if m.disabled {
		m.logger.Info("rate limiting disabled")
	}
	return m
}

// Limit returns middleware enforcing class per client IP. A class without a
// configured limit is not throttled. Store failures let the request through.
func (m *Middleware) Limit(class Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit, ok := m.limits[class]
			if m.disabled || !ok || limit.Requests <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := metadata.GetClientIP(ctx)
			result, err := m.store.Allow(ctx, string(class)+":"+ip, limit.Requests, limit.Window)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to check rate limit", "error", err, "class", class)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				deniedTotal.WithLabelValues(string(class)).Inc()
				m.logger.WarnContext(ctx, "rate limit exceeded", "class", class, "client_ip", ip)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteErrorAs(w,
					dErrors.New(dErrors.CodeTooManyRequests, "too many requests from this address, retry later"),
					"rate_limit_exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
