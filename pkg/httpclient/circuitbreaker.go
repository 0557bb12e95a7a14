package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerConfig configures a breaker around one downstream.
type CircuitBreakerConfig struct {
	Name string

	// MaxRequests is how many probes pass while half-open. 0 means 1.
	MaxRequests uint32
	// Interval clears the closed-state counts periodically. 0 never clears.
	Interval time.Duration
	// Timeout is the open period before the breaker goes half-open.
	Timeout time.Duration

	// The breaker trips once at least MinRequests were seen in the current
	// interval and the failed share of them reaches FailureRatio.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig returns the settings used for the Reli API.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// FallbackFunc answers a request the open breaker rejected.
type FallbackFunc func(ctx context.Context, err error) (*http.Response, error)

// ErrCircuitOpen is returned for requests rejected by an open breaker when no
// fallback is set.
var ErrCircuitOpen = gobreaker.ErrOpenState

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reli",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Breaker state: 0 closed, 1 half-open, 2 open.",
	}, []string{"name"})

	breakerFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reli",
		Subsystem: "circuit_breaker",
		Name:      "fallback_invoked_total",
		Help:      "Requests answered by the fallback while the breaker was open.",
	}, []string{"name"})
)

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return -1
}

// CircuitBreakerClient is a Client guarded by a gobreaker breaker.
type CircuitBreakerClient struct {
	name     string
	client   *Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	fallback FallbackFunc
	logger   *slog.Logger
}

// NewCircuitBreakerClient wraps client with a breaker built from cfg.
func NewCircuitBreakerClient(client *Client, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	breakerState.WithLabelValues(cfg.Name).Set(0)
	return &CircuitBreakerClient{
		name:    cfg.Name,
		client:  client,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](breakerSettings(cfg, logger)),
		logger:  logger,
	}
}

func breakerSettings(cfg CircuitBreakerConfig, logger *slog.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// A caller giving up says nothing about the remote side.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
}

// WithFallback returns a copy of c that calls fn instead of failing with
// ErrCircuitOpen.
func (c *CircuitBreakerClient) WithFallback(fn FallbackFunc) *CircuitBreakerClient {
	cpy := *c
	cpy.fallback = fn
	return &cpy
}

// Do sends req through the breaker. A 5xx response counts as a failure and is
// returned as *ServerError with its body drained.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.client.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 500 {
			return resp, nil
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: string(body)}
	})
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || !errors.Is(err, ErrCircuitOpen) {
		return nil, err
	}

	breakerFallbacks.WithLabelValues(c.name).Inc()
	c.logger.WarnContext(ctx, "circuit breaker open, invoking fallback", slog.String("breaker", c.name))
	return c.fallback(ctx, err)
}

// State reports the breaker's current state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}

// Doer is satisfied by both Client and CircuitBreakerClient.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// ServerError is a 5xx response turned into an error.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Body)
}
