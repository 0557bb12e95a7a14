package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) error { return nil }

func down(msg string) Checker {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, hf http.HandlerFunc, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	hf.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec.Code, resp
}

func TestLiveness(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("redis", down("connection refused"))

	code, resp := serve(t, h.LivenessHandler(), "/health/live")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusUp, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Empty(t, resp.Checks)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		critical    map[string]Checker
		nonCritical map[string]Checker
		wantCode    int
		wantStatus  Status
	}{
		{
			name:       "no checks",
			wantCode:   http.StatusOK,
			wantStatus: StatusUp,
		},
		{
			name:        "everything up",
			critical:    map[string]Checker{"redis": up, "postgres": up},
			nonCritical: map[string]Checker{"kafka": up, "reli-api": up},
			wantCode:    http.StatusOK,
			wantStatus:  StatusUp,
		},
		{
			name:       "critical store down",
			critical:   map[string]Checker{"redis": down("connection refused"), "postgres": up},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusDown,
		},
		{
			name:        "broker down only degrades",
			critical:    map[string]Checker{"redis": up},
			nonCritical: map[string]Checker{"kafka": down("no brokers reachable")},
			wantCode:    http.StatusOK,
			wantStatus:  StatusDegraded,
		},
		{
			name:        "several non-critical down",
			nonCritical: map[string]Checker{"kafka": down("x"), "reli-api": down("circuit open")},
			wantCode:    http.StatusOK,
			wantStatus:  StatusDegraded,
		},
		{
			name:        "critical wins over non-critical",
			critical:    map[string]Checker{"postgres": down("timeout")},
			nonCritical: map[string]Checker{"kafka": down("x")},
			wantCode:    http.StatusServiceUnavailable,
			wantStatus:  StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler()
			for name, c := range tt.critical {
				h.RegisterCritical(name, c)
			}
			for name, c := range tt.nonCritical {
				h.RegisterNonCritical(name, c)
			}

			code, resp := serve(t, h.ReadinessHandler(), "/health/ready")

			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Len(t, resp.Checks, len(tt.critical)+len(tt.nonCritical))
			for name := range tt.critical {
				assert.True(t, resp.Checks[name].Critical, name)
			}
			for name := range tt.nonCritical {
				assert.False(t, resp.Checks[name].Critical, name)
			}
		})
	}
}

func TestReadiness_ReportsCheckError(t *testing.T) {
	h := NewHandler()
	h.RegisterCritical("redis", down("connection refused"))

	_, resp := serve(t, h.ReadinessHandler(), "/health/ready")

	assert.Equal(t, StatusDown, resp.Checks["redis"].Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"].Error)
}

func TestRegister_DefaultsToCriticalAndOverwrites(t *testing.T) {
	h := NewHandler()
	h.Register("postgres", down("first"))
	h.Register("postgres", up)

	code, resp := serve(t, h.ReadinessHandler(), "/health/ready")

	assert.Equal(t, http.StatusOK, code)
	require.Contains(t, resp.Checks, "postgres")
	assert.True(t, resp.Checks["postgres"].Critical)
	assert.Equal(t, StatusUp, resp.Checks["postgres"].Status)
}

func TestReadiness_ChecksGetDeadline(t *testing.T) {
	h := NewHandler()
	var hasDeadline bool
	h.RegisterCritical("redis", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})

	serve(t, h.ReadinessHandler(), "/health/ready")

	assert.True(t, hasDeadline)
}
