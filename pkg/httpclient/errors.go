package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

// unavailableMessage is shown to the shopper whenever the remote API cannot
// be reached.
const unavailableMessage = "the shop is temporarily unavailable, please try again"

// envelopeError is the {"error":{"code","message"}} body shape.
type envelopeError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads the body of a non-2xx response and translates it
// into an AppError. Three body shapes are understood: the error envelope,
// {"detail": "..."}, and a map of field name to message list. The body is
// fully consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	message, fields := decodeErrorBody(body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return MapStatus(resp.StatusCode, message, fields, serviceName)
}

func decodeErrorBody(body []byte) (string, map[string]string) {
	var env envelopeError
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return env.Error.Message, nil
	}

	var generic map[string]json.RawMessage
	if json.Unmarshal(body, &generic) != nil {
		return strings.TrimSpace(string(body)), nil
	}

	var message string
	fields := make(map[string]string)
	for key, raw := range generic {
		text := rawMessageText(raw)
		switch key {
		case "detail", "message", "non_field_errors":
			message = text
		default:
			fields[key] = text
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return message, fields
}

// rawMessageText flattens "text" or ["text", ...] into one string.
func rawMessageText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, " ")
	}
	return string(raw)
}

// MapStatus translates a remote status code into an AppError.
func MapStatus(status int, message string, fields map[string]string, serviceName string) error {
	switch {
	case status == http.StatusBadRequest && len(fields) > 0:
		if message == "" {
			message = "request rejected by " + serviceName
		}
		return apperrors.Validation(message, fields)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.InvalidInput(message)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(message)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(message)
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName+" resource", message)
	case status == http.StatusConflict:
		return apperrors.Conflict(message)
	case status >= 500:
		e := apperrors.ServiceUnavailable(unavailableMessage)
		e.Err = fmt.Errorf("%s status %d: %s: %w", serviceName, status, message, apperrors.ErrServiceUnavail)
		return e
	default:
		return &apperrors.AppError{
			Code:    "REMOTE_ERROR",
			Message: message,
			Status:  status,
		}
	}
}

// TransportError converts a failure from Do (network error, open breaker,
// 5xx) into a SERVICE_UNAVAILABLE AppError. Cancellation by the caller is
// passed through untouched.
func TransportError(err error, serviceName string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return MapStatus(srvErr.StatusCode, srvErr.Body, nil, serviceName)
	}

	e := apperrors.ServiceUnavailable(unavailableMessage)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		e.Err = fmt.Errorf("%s circuit open: %w", serviceName, apperrors.ErrServiceUnavail)
		return e
	}
	e.Err = fmt.Errorf("%s unreachable: %v: %w", serviceName, err, apperrors.ErrServiceUnavail)
	return e
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
