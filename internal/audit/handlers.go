package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

// Handler exposes the audit query surface.
type Handler struct {
	repository *Repository
	logger     *logger.Logger
}

// NewHandler creates the audit HTTP handler.
func NewHandler(repository *Repository, log *logger.Logger) *Handler {
	return &Handler{
		repository: repository,
		logger:     log,
	}
}

// RegisterRoutes configures HTTP routes for audit queries.
func (h *Handler) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/audit/records", h.queryRecordsHandler).Methods("GET")
	api.HandleFunc("/audit/records/{id}", h.getRecordHandler).Methods("GET")
}

// queryRecordsHandler lists audit records filtered by the query string.
func (h *Handler) queryRecordsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	records, err := h.repository.Query(r.Context(), filter)
	if err != nil {
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to query audit records", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getRecordHandler returns one audit record by id.
func (h *Handler) getRecordHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	record, err := h.repository.GetByID(r.Context(), vars["id"])
	if err != nil {
		if types.IsErrorType(err, types.ErrorTypeNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "Audit record not found", err)
			return
		}
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to load audit record", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, record)
}

// parseFilter maps query parameters to an AuditFilter. Timestamps are
// RFC 3339.
func parseFilter(r *http.Request) (*types.AuditFilter, error) {
	query := r.URL.Query()
	filter := &types.AuditFilter{
		PrincipalID:  query.Get("principal_id"),
		ResourceType: query.Get("resource_type"),
	}

	if allowed := query.Get("allowed"); allowed != "" {
		parsed, err := strconv.ParseBool(allowed)
		if err != nil {
			return nil, err
		}
		filter.Allowed = &parsed
	}

	if start := query.Get("start"); start != "" {
		parsed, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, err
		}
		filter.Start = &parsed
	}

	if end := query.Get("end"); end != "" {
		parsed, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return nil, err
		}
		filter.End = &parsed
	}

	if minRisk := query.Get("min_risk_score"); minRisk != "" {
		parsed, err := strconv.Atoi(minRisk)
		if err != nil {
			return nil, err
		}
		filter.MinRiskScore = &parsed
	}

	if limit := query.Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return nil, err
		}
		filter.Limit = parsed
	}

	if offset := query.Get("offset"); offset != "" {
		parsed, err := strconv.Atoi(offset)
		if err != nil {
			return nil, err
		}
		filter.Offset = parsed
	}

	return filter, nil
}

// writeJSONResponse writes a JSON response
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithComponent("audit").Errorf("Failed to encode JSON response: %v", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	entry := h.logger.WithComponent("audit")
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
