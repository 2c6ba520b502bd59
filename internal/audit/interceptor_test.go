package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

// captureRecorder collects records in memory and can be told to fail.
type captureRecorder struct {
	mu      sync.Mutex
	records []*types.AuditRecord
	err     error
}

func (c *captureRecorder) Record(ctx context.Context, record *types.AuditRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, record)
	return nil
}

func (c *captureRecorder) last(t *testing.T) *types.AuditRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.records)
	return c.records[len(c.records)-1]
}

func setupInterceptor() (*Interceptor, *captureRecorder) {
	recorder := &captureRecorder{}
	interceptor := NewInterceptor(recorder, logger.New("error")).
		WithClock(func() time.Time { return time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC) })
	return interceptor, recorder
}

func TestInterceptor_Middleware(t *testing.T) {
	t.Run("successful request is recorded as allowed", func(t *testing.T) {
		interceptor, recorder := setupInterceptor()

		handler := interceptor.Middleware("Suggestion", "read")(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/suggestions", nil)
		req.Header.Set("X-Principal-ID", "admin-1")
		req.Header.Set("User-Agent", "test-client")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		record := recorder.last(t)
		assert.Equal(t, "admin-1", record.PrincipalID)
		assert.Equal(t, "Suggestion", record.ResourceType)
		assert.Equal(t, "read", record.Action)
		assert.True(t, record.Allowed)
		assert.Equal(t, "ALLOW_Suggestion_read", record.PolicyID)
		assert.Equal(t, "HTTP_200", record.DenyReasons)
		assert.Equal(t, "test-client", record.UserAgent)
	})

	t.Run("unauthenticated request falls back to anonymous", func(t *testing.T) {
		interceptor, recorder := setupInterceptor()

		handler := interceptor.Middleware("Suggestion", "read")(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/suggestions", nil))

		record := recorder.last(t)
		assert.Equal(t, AnonymousPrincipal, record.PrincipalID)
		assert.False(t, record.Allowed)
		assert.Equal(t, "DENY_UNAUTHENTICATED", record.PolicyID)
	})

	t.Run("status codes map to deny policy labels", func(t *testing.T) {
		tests := []struct {
			status   int
			policyID string
		}{
			{http.StatusForbidden, "DENY_UNAUTHORIZED"},
			{http.StatusNotFound, "DENY_NOT_FOUND"},
			{http.StatusConflict, "DENY_HTTP_409"},
			{http.StatusInternalServerError, "DENY_HTTP_500"},
		}

		for _, tt := range tests {
			interceptor, recorder := setupInterceptor()
			status := tt.status

			handler := interceptor.Middleware("Suggestion", "update")(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(status)
				}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/api/v1/suggestions/1", nil))

			record := recorder.last(t)
			assert.False(t, record.Allowed)
			assert.Equal(t, tt.policyID, record.PolicyID)
		}
	})

	t.Run("labels are inferred when not configured", func(t *testing.T) {
		interceptor, recorder := setupInterceptor()

		handler := interceptor.Middleware("", "")(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
			}))

		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/principals/p-1/job-transfer", nil))

		record := recorder.last(t)
		assert.Equal(t, "principals", record.ResourceType)
		assert.Equal(t, "create", record.Action)
	})

	t.Run("record is written even when the handler panics", func(t *testing.T) {
		interceptor, recorder := setupInterceptor()

		handler := interceptor.Middleware("Suggestion", "read")(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic("boom")
			}))

		assert.Panics(t, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/suggestions", nil))
		})

		record := recorder.last(t)
		assert.Equal(t, "Suggestion", record.ResourceType)
		assert.False(t, record.Allowed)
		assert.Equal(t, "DENY_HTTP_500", record.PolicyID)
	})

	t.Run("recorder failure never fails the request", func(t *testing.T) {
		interceptor, recorder := setupInterceptor()
		recorder.err = errors.New("database unavailable")

		handler := interceptor.Middleware("Suggestion", "read")(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

		response := httptest.NewRecorder()
		handler.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/api/v1/suggestions", nil))

		assert.Equal(t, http.StatusOK, response.Code)
	})
}

func TestInterceptor_RecordDecision(t *testing.T) {
	interceptor, recorder := setupInterceptor()

	decision := &types.Decision{
		Allowed:     false,
		PolicyID:    "DENY_" + types.DenyBranchMismatch,
		DenyReasons: []string{types.DenyBranchMismatch},
		RiskScore:   5,
	}
	request := &types.AuthorizationRequest{
		ResourceType: "MedicalRecord",
		Action:       "export",
	}

	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/authorize", nil)
	httpReq.RemoteAddr = "10.0.0.9:52100"
	interceptor.RecordDecision(context.Background(), httpReq, "doctor-1", request, decision)

	record := recorder.last(t)
	assert.Equal(t, "doctor-1", record.PrincipalID)
	assert.Equal(t, "MedicalRecord", record.ResourceType)
	assert.Equal(t, types.ResourceIDNone, record.ResourceID)
	assert.Equal(t, "export", record.Action)
	assert.False(t, record.Allowed)
	assert.Equal(t, types.DenyBranchMismatch, record.DenyReasons)
	require.NotNil(t, record.RiskScore)
	assert.Equal(t, 5, *record.RiskScore)
	assert.Equal(t, "10.0.0.9", record.IPAddress)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.4, 10.0.0.1")
	assert.Equal(t, "203.0.113.4", clientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:4411"
	assert.Equal(t, "192.0.2.7", clientIP(req))
}
