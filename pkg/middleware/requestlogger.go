package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pavelchamgl/reli.one-sub000/pkg/logger"
)

// RequestLogger builds a request-scoped logger enriched with correlation_id,
// client_id, trace_id and span_id, and stores it in the request context.
// Mount it after RequestLogging and Tracing.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if logger.ClientIDFromContext(ctx) == "" {
				if id := r.Header.Get(ClientIDHeader); id != "" {
					ctx = logger.WithClientID(ctx, id)
				}
			}

			enriched := logger.WithContext(ctx, base)
			ctx = logger.NewContext(ctx, enriched)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
