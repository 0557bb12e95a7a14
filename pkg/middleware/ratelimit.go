package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pavelchamgl/reli.one-sub000/pkg/httputil"
	"github.com/pavelchamgl/reli.one-sub000/pkg/logger"
)

// limiterEntry is the token bucket of one caller.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per caller key and forgets callers that
// were idle longer than ttl.
type limiterSet struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

func newLimiterSet(rps float64, burst int, ttl time.Duration) *limiterSet {
	return &limiterSet{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// sweep evicts callers idle longer than the ttl and returns how many remain.
func (s *limiterSet) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if now.Sub(e.lastSeen) > s.ttl {
			delete(s.entries, key)
		}
	}
	return len(s.entries)
}

// RateLimit returns middleware enforcing a token bucket per caller. Callers
// are keyed by X-Client-ID when present and by IP otherwise. A non-positive
// rps disables limiting. Rejected requests get 429 RATE_LIMITED.
func RateLimit(rps float64, burst int, l *slog.Logger) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}

	const idleTTL = 3 * time.Minute
	set := newLimiterSet(rps, burst, idleTTL)
	var lastSweep time.Time
	var sweepMu sync.Mutex

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rateLimitKey(r)

			sweepMu.Lock()
			if now := set.now(); now.Sub(lastSweep) > idleTTL {
				lastSweep = now
				set.sweep()
			}
			sweepMu.Unlock()

			if !set.get(key).Allow() {
				l.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "RATE_LIMITED",
						Message:   "too many requests",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitKey(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return "client:" + id
	}
	return "ip:" + clientIP(r)
}

// clientIP prefers the first address of X-Forwarded-For, then X-Real-IP,
// then the connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
