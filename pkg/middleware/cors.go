package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins is the list of allowed origins (e.g. "https://example.com").
	// If it contains "*", all origins are allowed (only safe in development).
	AllowedOrigins []string

	// AllowedMethods is the list of allowed HTTP methods.
	// Defaults to GET, POST, PUT, PATCH, DELETE, OPTIONS if empty.
	AllowedMethods []string

	// AllowedHeaders is the list of allowed request headers.
	// Defaults to defaultAllowedHeaders if empty.
	AllowedHeaders []string

	// ExposedHeaders is the list of headers the browser may access.
	ExposedHeaders []string

	// MaxAge is how long (in seconds) preflight results can be cached.
	// Defaults to 3600 if 0.
	MaxAge int

	// AllowCredentials indicates whether credentials (cookies, auth headers) are supported.
	AllowCredentials bool

	// Environment controls wildcard behavior. Wildcard origins are only
	// accepted when Environment is "development" or AllowedOrigins explicitly contains "*".
	Environment string
}

var (
	defaultAllowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	defaultAllowedHeaders = []string{"Accept", "Accept-Language", "Content-Type", CorrelationIDHeader, ClientIDHeader}
)

// DefaultCORSConfig returns a permissive configuration for local development
// of the storefront SPA.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: defaultAllowedMethods,
		AllowedHeaders: defaultAllowedHeaders,
		ExposedHeaders: []string{CorrelationIDHeader},
		MaxAge:         3600,
		Environment:    "development",
	}
}

// CORS answers preflight requests and sets the CORS response headers for
// the storefront SPA origins.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	if len(cfg.AllowedMethods) == 0 {
		cfg.AllowedMethods = defaultAllowedMethods
	}
	if len(cfg.AllowedHeaders) == 0 {
		cfg.AllowedHeaders = defaultAllowedHeaders
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 3600
	}

	wildcard := cfg.Environment == "development" || slices.Contains(cfg.AllowedOrigins, "*")
	allowOrigin := func(origin string) (value string, vary bool) {
		switch {
		case wildcard && cfg.AllowCredentials && origin != "":
			// Browsers reject "*" on credentialed requests, so echo the origin.
			return origin, true
		case wildcard:
			return "*", false
		case origin != "" && slices.Contains(cfg.AllowedOrigins, origin):
			return origin, true
		}
		return "", false
	}

	static := http.Header{}
	static.Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
	static.Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
	static.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
	if len(cfg.ExposedHeaders) > 0 {
		static.Set("Access-Control-Expose-Headers", strings.Join(cfg.ExposedHeaders, ", "))
	}
	if cfg.AllowCredentials {
		static.Set("Access-Control-Allow-Credentials", "true")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if value, vary := allowOrigin(r.Header.Get("Origin")); value != "" {
				h.Set("Access-Control-Allow-Origin", value)
				if vary {
					h.Add("Vary", "Origin")
				}
			}
			for k, v := range static {
				h[k] = slices.Clone(v)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
