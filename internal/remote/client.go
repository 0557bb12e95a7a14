// Package remote is the client for the Reli REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
	"github.com/pavelchamgl/reli.one-sub000/pkg/httpclient"
)

const serviceName = "reli-api"

// CircuitOpenFallback answers for the API while the breaker is open, so
// callers see a retry hint instead of gobreaker's error.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("the shop is temporarily unavailable, please retry in 30 seconds")
}

// Client calls the remote API. Every method maps failures to AppErrors:
// 400 to INVALID_INPUT or VALIDATION_ERROR, 401 to UNAUTHORIZED, and 5xx
// or network errors to SERVICE_UNAVAILABLE.
type Client struct {
	doer    httpclient.Doer
	baseURL string
	logger  *slog.Logger
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(doer httpclient.Doer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// call describes one request.
type call struct {
	method  string
	path    string
	query   url.Values
	token   string
	idemKey string
	body    any
}

func (c *Client) do(ctx context.Context, in call, out any) error {
	var body io.Reader
	if in.body != nil {
		data, err := json.Marshal(in.body)
		if err != nil {
			return fmt.Errorf("marshal %s %s request: %w", in.method, in.path, err)
		}
		body = bytes.NewReader(data)
	}

	target := c.baseURL + in.path
	if len(in.query) > 0 {
		target += "?" + in.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, in.method, target, body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", in.method, in.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if in.token != "" {
		req.Header.Set("Authorization", "Bearer "+in.token)
	}
	if in.idemKey != "" {
		req.Header.Set(httpclient.IdempotencyKeyHeader, in.idemKey)
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "remote call failed",
			slog.String("method", in.method),
			slog.String("path", in.path),
			slog.String("error", err.Error()),
		)
		return httpclient.TransportError(err, serviceName)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", in.method, in.path, err)
	}
	return nil
}
