package authz

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/monitoring"
	"github.com/caregrid/authz/pkg/types"
)

// PrincipalStore loads principals for the lookup-based endpoints.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*types.Principal, error)
}

// DecisionRecorder persists the full decision produced by the authorize
// endpoint. Recording failures must not surface to the caller.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, r *http.Request, principalID string, request *types.AuthorizationRequest, decision *types.Decision)
}

// Handler exposes the decision engine over HTTP.
type Handler struct {
	engine     *Engine
	principals PrincipalStore
	recorder   DecisionRecorder
	logger     *logger.Logger
}

// NewHandler creates the HTTP handler for the decision engine.
func NewHandler(engine *Engine, principals PrincipalStore, recorder DecisionRecorder, log *logger.Logger) *Handler {
	return &Handler{
		engine:     engine,
		principals: principals,
		recorder:   recorder,
		logger:     log,
	}
}

// RegisterRoutes configures HTTP routes for the decision engine.
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/authorize", h.authorizeHandler).Methods("POST")
	api.HandleFunc("/authorize/batch", h.batchAuthorizeHandler).Methods("POST")
	api.HandleFunc("/permissions/check", h.hasPermissionHandler).Methods("GET")
	api.HandleFunc("/principals/{id}/effective-permissions", h.effectivePermissionsHandler).Methods("GET")
}

// authorizeRequest is the authorize endpoint's body. The caller either
// inlines the principal or names one by id for the handler to load.
type authorizeRequest struct {
	PrincipalID string                      `json:"principal_id,omitempty"`
	Principal   *types.Principal            `json:"principal,omitempty"`
	Request     *types.AuthorizationRequest `json:"request"`
}

// batchAuthorizeRequest is the batch endpoint's body.
type batchAuthorizeRequest struct {
	Items []authorizeRequest `json:"items"`
}

// batchAuthorizeItem is one evaluated entry of a batch. Invalid entries
// carry an error instead of failing the whole batch.
type batchAuthorizeItem struct {
	Index    int             `json:"index"`
	Decision *types.Decision `json:"decision,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// authorizeHandler evaluates one authorization request. Denied decisions
// are answered 200 like allowed ones; callers read the decision body.
func (h *Handler) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	decision, err := h.evaluate(r, &req)
	if err != nil {
		if types.IsErrorType(err, types.ErrorTypeNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "Principal not found", err)
			return
		}
		h.writeErrorResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, decision)
}

// batchAuthorizeHandler evaluates many requests in one call. Each item is
// evaluated independently.
func (h *Handler) batchAuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	var req batchAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Items) == 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "items is required", nil)
		return
	}

	results := make([]batchAuthorizeItem, 0, len(req.Items))
	for i := range req.Items {
		decision, err := h.evaluate(r, &req.Items[i])
		if err != nil {
			results = append(results, batchAuthorizeItem{Index: i, Error: err.Error()})
			continue
		}
		results = append(results, batchAuthorizeItem{Index: i, Decision: decision})
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"decisions": results,
		"count":     len(results),
	})
}

// evaluate resolves the principal, runs the engine, and records the
// decision. Shared by the single and batch authorize paths.
func (h *Handler) evaluate(r *http.Request, req *authorizeRequest) (*types.Decision, error) {
	if req.Request == nil || req.Request.ResourceType == "" || req.Request.Action == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "resource_type and action are required")
	}

	principal := req.Principal
	if principal == nil {
		if req.PrincipalID == "" {
			return nil, types.NewValidationError(types.ErrCodeInvalidInput, "principal or principal_id is required")
		}
		loaded, err := h.principals.GetPrincipal(r.Context(), req.PrincipalID)
		if err != nil {
			return nil, err
		}
		principal = loaded
	}

	decision := h.engine.Authorize(principal, req.Request)

	monitoring.RecordDecision(principal.Role, req.Request.ResourceType, decision.Allowed, decision.RiskScore)

	if h.recorder != nil {
		h.recorder.RecordDecision(r.Context(), r, principal.ID, req.Request, decision)
	}

	return decision, nil
}

// hasPermissionHandler answers the role-table-only capability check used
// for UI hints. It never consults deny rules or resource attributes.
func (h *Handler) hasPermissionHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	role := query.Get("role")
	resourceType := query.Get("resource_type")
	action := query.Get("action")

	if role == "" || resourceType == "" || action == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "role, resource_type and action are required", nil)
		return
	}

	allowed := h.engine.HasPermission(role, resourceType, action)

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"role":          role,
		"resource_type": resourceType,
		"action":        action,
		"allowed":       allowed,
	})
}

// effectivePermissionsHandler lists a principal's merged role and ad-hoc
// permissions grouped by resource type.
func (h *Handler) effectivePermissionsHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	principalID := vars["id"]

	principal, err := h.principals.GetPrincipal(r.Context(), principalID)
	if err != nil {
		h.writeErrorResponse(w, http.StatusNotFound, "Principal not found", err)
		return
	}

	permissions := h.engine.EffectivePermissions(principal)

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"principal_id": principalID,
		"role":         principal.Role,
		"permissions":  permissions,
	})
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithComponent("authz").Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	entry := h.logger.WithComponent("authz")
	if err != nil {
		entry.WithError(err).Warn(message)
	} else {
		entry.Warn(message)
	}

	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	h.writeJSONResponse(w, statusCode, response)
}
