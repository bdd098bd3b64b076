// Package credential guards routes that require a shared secret in a request header.
package credential

import (
	"log/slog"
	"net/http"

	dErrors "objectmap/pkg/domain-errors"
	"objectmap/pkg/platform/httputil"
	"objectmap/pkg/platform/middleware/metadata"
	request "objectmap/pkg/platform/middleware/request"
)

// HeaderPipelineKey carries the population pipeline's key.
const HeaderPipelineKey = "X-Pipeline-Key"

// KeyVerifier checks a presented key.
type KeyVerifier interface {
	Verify(key string) error
}

// RequireKey rejects requests whose header value does not pass verifier.
func RequireKey(header string, verifier KeyVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := verifier.Verify(r.Header.Get(header)); err != nil {
				ctx := r.Context()
				logger.WarnContext(ctx, "credential rejected",
					"header", header,
					"client_ip", metadata.GetClientIP(ctx),
					"request_id", request.GetRequestID(ctx),
					"error", err,
				)
				if !dErrors.HasCode(err, dErrors.CodeUnauthorized) {
					err = dErrors.Wrap(err, dErrors.CodeInternal, "could not verify credential")
				}
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePipelineKey is RequireKey on the pipeline header.
func RequirePipelineKey(verifier KeyVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return RequireKey(HeaderPipelineKey, verifier, logger)
}
