package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, c *Checker, path string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestChecker_Health(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Check
		wantStatus int
		wantState  string
	}{
		{
			name:       "all healthy",
			checks:     map[string]Check{"database": func(context.Context) error { return nil }},
			wantStatus: http.StatusOK,
			wantState:  "healthy",
		},
		{
			name: "one failing",
			checks: map[string]Check{
				"database": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantState:  "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, NewChecker("test", nil, tt.checks), "/api/v1/health")
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantState, body.Status)
			assert.Len(t, body.Checks, len(tt.checks))
			assert.True(t, body.ModelReady)
		})
	}
}

func TestChecker_Ready(t *testing.T) {
	ready := false
	c := NewChecker("test", func() bool { return ready }, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, c, "/api/v1/health/ready").Code)

	ready = true
	assert.Equal(t, http.StatusOK, serve(t, c, "/api/v1/health/ready").Code)
	assert.Equal(t, http.StatusOK, serve(t, c, "/api/v1/health/live").Code)
}
