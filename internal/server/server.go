package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/caregrid/authz/internal/audit"
	"github.com/caregrid/authz/internal/authz"
	"github.com/caregrid/authz/internal/pending"
	"github.com/caregrid/authz/pkg/config"
	"github.com/caregrid/authz/pkg/database"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/monitoring"
)

// Server wires the HTTP transport: routing, middleware, and lifecycle.
type Server struct {
	config      *config.Config
	logger      *logger.Logger
	db          *database.DB
	httpServer  *http.Server
	limiter     *RateLimiter
	interceptor *audit.Interceptor

	authzHandler   *authz.Handler
	auditHandler   *audit.Handler
	pendingHandler *pending.Handler
}

// New creates the HTTP server for the authorization service.
func New(
	cfg *config.Config,
	log *logger.Logger,
	db *database.DB,
	interceptor *audit.Interceptor,
	authzHandler *authz.Handler,
	auditHandler *audit.Handler,
	pendingHandler *pending.Handler,
) *Server {
	s := &Server{
		config:         cfg,
		logger:         log,
		db:             db,
		interceptor:    interceptor,
		authzHandler:   authzHandler,
		auditHandler:   auditHandler,
		pendingHandler: pendingHandler,
	}

	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.BurstSize)
	}

	return s
}

// Start runs the HTTP server until Stop is called.
func (s *Server) Start() error {
	router := s.buildRouter()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeout) * time.Second,
	}

	s.logger.Infof("Starting authorization service on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the HTTP server down, draining in-flight requests and
// releasing the rate limiter's background sweep.
func (s *Server) Stop(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping authorization service")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.recoveryMiddleware)
	router.Use(s.securityHeadersMiddleware)
	router.Use(s.loggingMiddleware)

	healthPath := s.config.Monitoring.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	router.HandleFunc(healthPath, s.healthHandler).Methods("GET")

	if s.config.Monitoring.Enabled {
		metricsPath := s.config.Monitoring.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Handle(metricsPath, monitoring.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	// resource type and action are inferred from the route per request
	api.Use(s.interceptor.Middleware("", ""))

	s.authzHandler.RegisterRoutes(api)
	s.auditHandler.RegisterRoutes(api)
	s.pendingHandler.RegisterRoutes(api)

	return router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	statusCode := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.WithComponent("server").WithError(err).Error("Database health check failed")
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"service":   "authorization-service",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
