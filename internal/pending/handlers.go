package pending

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

const (
	defaultLookbackDays  = 90
	defaultRiskThreshold = 3
)

// Handler exposes the pending permission workflow over HTTP.
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates the workflow HTTP handler.
func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

// RegisterRoutes configures HTTP routes for the workflow.
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/suggestions", h.listSuggestionsHandler).Methods("GET")
	api.HandleFunc("/suggestions/stats", h.statsHandler).Methods("GET")
	api.HandleFunc("/suggestions/bulk-approve", h.bulkApproveHandler).Methods("POST")
	api.HandleFunc("/suggestions/bulk-reject", h.bulkRejectHandler).Methods("POST")
	api.HandleFunc("/suggestions/{id}/approve", h.approveHandler).Methods("POST")
	api.HandleFunc("/suggestions/{id}/reject", h.rejectHandler).Methods("POST")

	api.HandleFunc("/principals", h.onboardPrincipalHandler).Methods("POST")
	api.HandleFunc("/principals/{id}/suggestions", h.principalSuggestionsHandler).Methods("GET")
	api.HandleFunc("/principals/{id}/suggestions/approve-all", h.approveAllHandler).Methods("POST")
	api.HandleFunc("/principals/{id}/job-transfer", h.jobTransferHandler).Methods("POST")

	api.HandleFunc("/rightsizing", h.rightsizingHandler).Methods("POST")
	api.HandleFunc("/anomalies", h.anomaliesHandler).Methods("POST")
	api.HandleFunc("/recommender/health", h.recommenderHealthHandler).Methods("GET")
}

// reviewRequest is the body for approve/reject calls.
type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes,omitempty"`
}

// bulkReviewRequest is the body for bulk approve/reject calls.
type bulkReviewRequest struct {
	IDs      []int64 `json:"ids"`
	Reviewer string  `json:"reviewer"`
	Notes    string  `json:"notes,omitempty"`
}

func (h *Handler) listSuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	requestType := types.RequestType(query.Get("request_type"))
	status := types.SuggestionStatus(query.Get("status"))

	suggestions, err := h.service.ListByRequestType(r.Context(), requestType, status)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list suggestions", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"count":       len(suggestions),
	})
}

func (h *Handler) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to count suggestions", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, stats)
}

func (h *Handler) approveHandler(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.service.Approve)
}

func (h *Handler) rejectHandler(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.service.Reject)
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, apply func(context.Context, int64, string, string) (*types.PendingSuggestion, error)) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid suggestion id", err)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reviewer == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "reviewer is required", nil)
		return
	}

	suggestion, err := apply(r.Context(), id, req.Reviewer, req.Notes)
	if err != nil {
		h.writeServiceError(w, err, "Failed to review suggestion")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, suggestion)
}

func (h *Handler) bulkApproveHandler(w http.ResponseWriter, r *http.Request) {
	h.bulkReview(w, r, h.service.BulkApprove)
}

func (h *Handler) bulkRejectHandler(w http.ResponseWriter, r *http.Request) {
	h.bulkReview(w, r, h.service.BulkReject)
}

func (h *Handler) bulkReview(w http.ResponseWriter, r *http.Request, apply func(context.Context, []int64, string, string) *types.BulkReviewResult) {
	var req bulkReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reviewer == "" || len(req.IDs) == 0 {
		h.writeErrorResponse(w, http.StatusBadRequest, "reviewer and ids are required", nil)
		return
	}

	result := apply(r.Context(), req.IDs, req.Reviewer, req.Notes)

	h.writeJSONResponse(w, http.StatusOK, result)
}

func (h *Handler) onboardPrincipalHandler(w http.ResponseWriter, r *http.Request) {
	var principal types.Principal
	if err := json.NewDecoder(r.Body).Decode(&principal); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if principal.ID == "" || principal.Username == "" || principal.Role == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "id, username and role are required", nil)
		return
	}

	suggested, err := h.service.OnboardPrincipal(r.Context(), &principal)
	if err != nil {
		h.writeServiceError(w, err, "Failed to onboard principal")
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"principal_id":          principal.ID,
		"suggested_permissions": suggested,
	})
}

func (h *Handler) principalSuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	principalID := mux.Vars(r)["id"]
	status := types.SuggestionStatus(r.URL.Query().Get("status"))

	suggestions, err := h.service.ListForPrincipal(r.Context(), principalID, status)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list suggestions")
		return
	}

	toAdd := []*types.PendingSuggestion{}
	toRemove := []*types.PendingSuggestion{}
	for _, suggestion := range suggestions {
		if suggestion.ChangeType == types.ChangeRemove {
			toRemove = append(toRemove, suggestion)
		} else {
			toAdd = append(toAdd, suggestion)
		}
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"principal_id": principalID,
		"to_add":       toAdd,
		"to_remove":    toRemove,
		"total":        len(suggestions),
	})
}

func (h *Handler) approveAllHandler(w http.ResponseWriter, r *http.Request) {
	principalID := mux.Vars(r)["id"]

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Reviewer == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "reviewer is required", nil)
		return
	}

	approved, err := h.service.ApproveAllForPrincipal(r.Context(), principalID, req.Reviewer, req.Notes)
	if err != nil {
		h.writeServiceError(w, err, "Failed to approve suggestions")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"principal_id": principalID,
		"approved":     approved,
	})
}

func (h *Handler) jobTransferHandler(w http.ResponseWriter, r *http.Request) {
	principalID := mux.Vars(r)["id"]

	var req types.JobTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.service.InitiateJobTransfer(r.Context(), principalID, &req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to initiate job transfer")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, result)
}

func (h *Handler) rightsizingHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LookbackDays int `json:"lookback_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.LookbackDays <= 0 {
		req.LookbackDays = defaultLookbackDays
	}

	created, err := h.service.RunRightsizing(r.Context(), req.LookbackDays)
	if err != nil {
		h.writeServiceError(w, err, "Rightsizing failed")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"lookback_days":       req.LookbackDays,
		"suggestions_created": created,
	})
}

func (h *Handler) anomaliesHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RiskThreshold int `json:"risk_threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.RiskThreshold <= 0 {
		req.RiskThreshold = defaultRiskThreshold
	}

	findings, err := h.service.DetectAnomalies(r.Context(), req.RiskThreshold)
	if err != nil {
		h.writeServiceError(w, err, "Anomaly detection failed")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"risk_threshold": req.RiskThreshold,
		"anomalies":      findings,
		"count":          len(findings),
	})
}

func (h *Handler) recommenderHealthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := h.service.RecommenderHealthy(r.Context())

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	h.writeJSONResponse(w, status, map[string]interface{}{
		"recommender_healthy": healthy,
	})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, message string) {
	switch {
	case types.IsErrorType(err, types.ErrorTypeNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, message, err)
	case types.IsErrorType(err, types.ErrorTypeInvalidState):
		h.writeErrorResponse(w, http.StatusConflict, message, err)
	case types.IsErrorType(err, types.ErrorTypeValidation):
		h.writeErrorResponse(w, http.StatusBadRequest, message, err)
	case types.IsErrorType(err, types.ErrorTypeExternal):
		h.writeErrorResponse(w, http.StatusBadGateway, message, err)
	default:
		h.writeErrorResponse(w, http.StatusInternalServerError, message, err)
	}
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithComponent("pending").Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	entry := h.logger.WithComponent("pending")
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
