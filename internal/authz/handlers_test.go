package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

// stubPrincipalStore serves principals from a fixed map.
type stubPrincipalStore struct {
	principals map[string]*types.Principal
}

func (s *stubPrincipalStore) GetPrincipal(ctx context.Context, id string) (*types.Principal, error) {
	principal, ok := s.principals[id]
	if !ok {
		return nil, types.NewNotFoundError(types.ErrCodePrincipalNotFound, "Principal not found")
	}
	return principal, nil
}

func setupHandlerRouter(principals map[string]*types.Principal) *mux.Router {
	log := logger.New("error")
	engine := NewEngine(DefaultPolicyTable(), log)
	handler := NewHandler(engine, &stubPrincipalStore{principals: principals}, nil, log)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func postJSON(t *testing.T, router *mux.Router, path string, body interface{}) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthorizeHandler(t *testing.T) {
	router := setupHandlerRouter(map[string]*types.Principal{
		"nurse-1": {
			ID: "nurse-1", Username: "nwhite", Role: types.RoleNurse,
			Branch: "north", Department: "cardiology",
			AssignedPatients: []string{"patient-1"},
		},
	})

	t.Run("allowed by principal id", func(t *testing.T) {
		w := postJSON(t, router, "/authorize", map[string]interface{}{
			"principal_id": "nurse-1",
			"request": map[string]interface{}{
				"resource_type": "VitalSigns",
				"action":        "create",
				"patient_id":    "patient-1",
			},
		})

		assert.Equal(t, http.StatusOK, w.Code)
		var decision types.Decision
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
		assert.True(t, decision.Allowed)
		assert.Equal(t, "ALLOW_Nurse_VitalSigns_create", decision.PolicyID)
	})

	t.Run("denied still answers 200", func(t *testing.T) {
		w := postJSON(t, router, "/authorize", map[string]interface{}{
			"principal_id": "nurse-1",
			"request": map[string]interface{}{
				"resource_type": "BillingRecord",
				"action":        "read",
			},
		})

		assert.Equal(t, http.StatusOK, w.Code)
		var decision types.Decision
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decision))
		assert.False(t, decision.Allowed)
	})

	t.Run("unknown principal is 404", func(t *testing.T) {
		w := postJSON(t, router, "/authorize", map[string]interface{}{
			"principal_id": "ghost",
			"request": map[string]interface{}{
				"resource_type": "VitalSigns",
				"action":        "read",
			},
		})

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing request is 400", func(t *testing.T) {
		w := postJSON(t, router, "/authorize", map[string]interface{}{
			"principal_id": "nurse-1",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBatchAuthorizeHandler(t *testing.T) {
	router := setupHandlerRouter(map[string]*types.Principal{
		"nurse-1": {
			ID: "nurse-1", Username: "nwhite", Role: types.RoleNurse,
			Branch: "north", Department: "cardiology",
			AssignedPatients: []string{"patient-1"},
		},
	})

	w := postJSON(t, router, "/authorize/batch", map[string]interface{}{
		"items": []map[string]interface{}{
			{
				"principal_id": "nurse-1",
				"request": map[string]interface{}{
					"resource_type": "VitalSigns",
					"action":        "read",
					"patient_id":    "patient-1",
				},
			},
			{
				"principal_id": "nurse-1",
				"request": map[string]interface{}{
					"resource_type": "BillingRecord",
					"action":        "read",
				},
			},
			{
				"principal_id": "ghost",
				"request": map[string]interface{}{
					"resource_type": "VitalSigns",
					"action":        "read",
				},
			},
		},
	})

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Decisions []struct {
			Index    int             `json:"index"`
			Decision *types.Decision `json:"decision"`
			Error    string          `json:"error"`
		} `json:"decisions"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Equal(t, 3, response.Count)

	// one item failing never aborts the rest
	require.NotNil(t, response.Decisions[0].Decision)
	assert.True(t, response.Decisions[0].Decision.Allowed)
	require.NotNil(t, response.Decisions[1].Decision)
	assert.False(t, response.Decisions[1].Decision.Allowed)
	assert.Nil(t, response.Decisions[2].Decision)
	assert.Contains(t, response.Decisions[2].Error, "PRINCIPAL_NOT_FOUND")
}

func TestBatchAuthorizeHandler_EmptyItems(t *testing.T) {
	router := setupHandlerRouter(nil)

	w := postJSON(t, router, "/authorize/batch", map[string]interface{}{
		"items": []map[string]interface{}{},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
