package audit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/monitoring"
	"github.com/caregrid/authz/pkg/types"
)

// AnonymousPrincipal is recorded when no authenticated principal is
// attached to the request.
const AnonymousPrincipal = "anonymous"

// recordTimeout bounds the audit write so a slow database cannot hold the
// wrapped request open.
const recordTimeout = 5 * time.Second

// Interceptor records one audit entry around every wrapped operation.
// Recording never fails the operation it wraps.
type Interceptor struct {
	recorder Recorder
	logger   *logger.Logger
	clock    func() time.Time
}

// NewInterceptor creates a new audit interceptor.
func NewInterceptor(recorder Recorder, log *logger.Logger) *Interceptor {
	return &Interceptor{
		recorder: recorder,
		logger:   log,
		clock:    time.Now,
	}
}

// WithClock overrides the interceptor's clock for tests.
func (i *Interceptor) WithClock(clock func() time.Time) *Interceptor {
	i.clock = clock
	return i
}

// Middleware wraps a handler and persists one audit record on every exit
// path. The resourceType and action labels override inference from the
// request; pass empty strings to infer from method and path.
func (i *Interceptor) Middleware(resourceType, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			timestamp := i.clock()

			defer func() {
				recovered := recover()
				if recovered != nil {
					recorder.statusCode = http.StatusInternalServerError
				}

				rt := resourceType
				act := action
				if rt == "" {
					rt = inferResourceType(r.URL.Path)
				}
				if act == "" {
					act = inferAction(r.Method)
				}

				allowed := recovered == nil && recorder.statusCode < http.StatusBadRequest

				record := &types.AuditRecord{
					PrincipalID:  principalFromRequest(r),
					ResourceType: rt,
					ResourceID:   r.URL.Path,
					Action:       act,
					Allowed:      allowed,
					PolicyID:     derivePolicyID(rt, act, allowed, recorder.statusCode),
					DenyReasons:  "HTTP_" + strconv.Itoa(recorder.statusCode),
					Timestamp:    timestamp,
					IPAddress:    clientIP(r),
					UserAgent:    r.UserAgent(),
				}

				i.persist(r.Context(), record)

				if recovered != nil {
					panic(recovered)
				}
			}()

			next.ServeHTTP(recorder, r)
		})
	}
}

// RecordDecision persists the full decision for the authorize endpoint.
// Unlike the middleware path, the policy id, deny reasons and risk score
// come straight from the engine.
func (i *Interceptor) RecordDecision(ctx context.Context, r *http.Request, principalID string, request *types.AuthorizationRequest, decision *types.Decision) {
	if principalID == "" {
		principalID = AnonymousPrincipal
	}

	resourceID := request.ResourceID
	if resourceID == "" {
		resourceID = types.ResourceIDNone
	}

	riskScore := decision.RiskScore
	record := &types.AuditRecord{
		PrincipalID:  principalID,
		ResourceType: request.ResourceType,
		ResourceID:   resourceID,
		Action:       request.Action,
		Allowed:      decision.Allowed,
		PolicyID:     decision.PolicyID,
		DenyReasons:  strings.Join(decision.DenyReasons, ","),
		RiskScore:    &riskScore,
		Timestamp:    i.clock(),
	}

	if r != nil {
		record.IPAddress = clientIP(r)
		record.UserAgent = r.UserAgent()
	}

	i.persist(ctx, record)
}

// persist writes the record, swallowing failures. An audit write must
// never fail or block the operation it describes.
func (i *Interceptor) persist(ctx context.Context, record *types.AuditRecord) {
	ctx, cancel := context.WithTimeout(withoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := i.recorder.Record(ctx, record); err != nil {
		monitoring.RecordAuditWrite(false)
		i.logger.WithComponent("audit").WithError(err).Error("Failed to write audit record")
		return
	}
	monitoring.RecordAuditWrite(true)
}

// withoutCancel detaches the audit write from the request's cancellation
// so a client disconnect cannot lose the record.
func withoutCancel(ctx context.Context) context.Context {
	return detachedContext{ctx}
}

type detachedContext struct {
	parent context.Context
}

func (d detachedContext) Deadline() (time.Time, bool)       { return time.Time{}, false }
func (d detachedContext) Done() <-chan struct{}             { return nil }
func (d detachedContext) Err() error                        { return nil }
func (d detachedContext) Value(key interface{}) interface{} { return d.parent.Value(key) }

// derivePolicyID maps an HTTP outcome onto the audit policy label.
func derivePolicyID(resourceType, action string, allowed bool, statusCode int) string {
	if allowed {
		return "ALLOW_" + resourceType + "_" + action
	}
	switch statusCode {
	case http.StatusUnauthorized:
		return "DENY_UNAUTHENTICATED"
	case http.StatusForbidden:
		return "DENY_UNAUTHORIZED"
	case http.StatusNotFound:
		return "DENY_NOT_FOUND"
	default:
		return "DENY_HTTP_" + strconv.Itoa(statusCode)
	}
}

// principalFromRequest reads the authenticated principal id injected by
// the authentication layer, falling back to the anonymous sentinel.
func principalFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Principal-ID"); id != "" {
		return id
	}
	return AnonymousPrincipal
}

// clientIP prefers the forwarding header set by the edge proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx > 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// inferResourceType derives a resource label from the first meaningful
// path segment, e.g. /api/v1/suggestions/42 -> suggestions.
func inferResourceType(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for _, segment := range segments {
		if segment == "" || segment == "api" || strings.HasPrefix(segment, "v") && len(segment) <= 3 {
			continue
		}
		return segment
	}
	return "unknown"
}

// inferAction maps the HTTP method to an action label.
func inferAction(method string) string {
	switch method {
	case http.MethodGet:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// responseRecorder captures the status code written by the wrapped
// handler.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
