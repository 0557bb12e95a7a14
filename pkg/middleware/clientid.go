package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/pavelchamgl/reli.one-sub000/pkg/httputil"
	"github.com/pavelchamgl/reli.one-sub000/pkg/logger"
)

// ClientIDHeader carries the stable identifier of one browser's storage.
const ClientIDHeader = "X-Client-ID"

var clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,128}$`)

// ClientID rejects requests without a well-formed X-Client-ID header and
// stores the identifier in the request context.
func ClientID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(ClientIDHeader)
			if id == "" {
				writeClientIDError(w, r, "missing "+ClientIDHeader+" header")
				return
			}
			if !clientIDPattern.MatchString(id) {
				writeClientIDError(w, r, "malformed "+ClientIDHeader+" header")
				return
			}

			ctx := logger.WithClientID(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIDFromContext returns the client id stored by the ClientID middleware.
func ClientIDFromContext(ctx context.Context) string {
	return logger.ClientIDFromContext(ctx)
}

func writeClientIDError(w http.ResponseWriter, r *http.Request, msg string) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{
			Code:      "MISSING_CLIENT_ID",
			Message:   msg,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}
