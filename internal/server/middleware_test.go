package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caregrid/authz/pkg/config"
	"github.com/caregrid/authz/pkg/logger"
)

func testServer() *Server {
	return &Server{
		config: &config.Config{},
		logger: logger.New("error"),
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	s := testServer()

	handler := s.securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Strict-Transport-Security"))
	assert.NotEmpty(t, w.Header().Get("Referrer-Policy"))
}

func TestRecoveryMiddleware(t *testing.T) {
	s := testServer()

	handler := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("storage exploded")
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()

	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, req)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal server error")
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("disabled limiter passes everything", func(t *testing.T) {
		s := testServer()

		handler := s.rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		for i := 0; i < 100; i++ {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("burst exhaustion returns 429", func(t *testing.T) {
		s := testServer()
		s.limiter = NewRateLimiter(60, 2)
		defer s.limiter.Close()

		handler := s.rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		codes := []int{}
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("X-Principal-ID", "doctor-1")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			codes = append(codes, w.Code)
		}

		assert.Equal(t, http.StatusOK, codes[0])
		assert.Equal(t, http.StatusOK, codes[1])
		assert.Equal(t, http.StatusTooManyRequests, codes[2])
		assert.Equal(t, http.StatusTooManyRequests, codes[3])
	})

	t.Run("clients are limited independently", func(t *testing.T) {
		s := testServer()
		s.limiter = NewRateLimiter(60, 1)
		defer s.limiter.Close()

		handler := s.rateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		first := httptest.NewRequest("GET", "/test", nil)
		first.Header.Set("X-Principal-ID", "doctor-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, first)
		assert.Equal(t, http.StatusOK, w.Code)

		blocked := httptest.NewRequest("GET", "/test", nil)
		blocked.Header.Set("X-Principal-ID", "doctor-1")
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, blocked)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		other := httptest.NewRequest("GET", "/test", nil)
		other.Header.Set("X-Principal-ID", "nurse-1")
		w = httptest.NewRecorder()
		handler.ServeHTTP(w, other)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestClientAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.0.0.9:51234"
	assert.Equal(t, "10.0.0.9", clientAddr(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientAddr(req))
}
