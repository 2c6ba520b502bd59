package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Authorization decision metrics
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Total number of authorization decisions",
		},
		[]string{"role", "resource_type", "allowed"},
	)

	decisionRiskScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authz_decision_risk_score",
			Help:    "Risk score distribution of authorization decisions",
			Buckets: []float64{0, 2, 4, 6, 8, 10, 12},
		},
		[]string{"resource_type"},
	)

	// Audit trail metrics
	auditWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_writes_total",
			Help: "Total number of audit record writes",
		},
		[]string{"status"},
	)

	// Pending permission workflow metrics
	suggestionsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_suggestions_ingested_total",
			Help: "Total number of pending permission suggestions created",
		},
		[]string{"request_type", "change_type"},
	)

	suggestionsReviewedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_suggestions_reviewed_total",
			Help: "Total number of suggestion review outcomes",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		decisionsTotal,
		decisionRiskScore,
		auditWritesTotal,
		suggestionsIngestedTotal,
		suggestionsReviewedTotal,
	)
}

// RecordHTTPRequest records metrics for a completed HTTP request.
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDecision records metrics for one authorization decision.
func RecordDecision(role, resourceType string, allowed bool, riskScore int) {
	decisionsTotal.WithLabelValues(role, resourceType, strconv.FormatBool(allowed)).Inc()
	decisionRiskScore.WithLabelValues(resourceType).Observe(float64(riskScore))
}

// RecordAuditWrite records the outcome of an audit record write.
func RecordAuditWrite(success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	auditWritesTotal.WithLabelValues(status).Inc()
}

// RecordSuggestionIngested records a newly created pending suggestion.
func RecordSuggestionIngested(requestType, changeType string) {
	suggestionsIngestedTotal.WithLabelValues(requestType, changeType).Inc()
}

// RecordSuggestionReviewed records a review outcome (approved/rejected).
func RecordSuggestionReviewed(outcome string) {
	suggestionsReviewedTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
