package pending

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caregrid/authz/pkg/config"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

func newTestRecommender(url string) *RecommenderClient {
	cfg := &config.RecommenderConfig{URL: url, TimeoutMS: 2000}
	return NewRecommenderClient(cfg, logger.New("error"))
}

func TestRecommendNewPrincipal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/recommend/new-user", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var profile types.Profile
		require.NoError(t, json.NewDecoder(r.Body).Decode(&profile))
		assert.Equal(t, types.RoleNurse, profile.Role)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"recommendations": []types.ScoredPermission{
				{Permission: "VitalSigns_read", Confidence: 0.95},
				{Permission: "MedicalRecord_update", Confidence: 0.7},
			},
		})
	}))
	defer server.Close()

	client := newTestRecommender(server.URL)
	scored, err := client.RecommendNewPrincipal(context.Background(), types.Profile{
		Role:       types.RoleNurse,
		Department: "cardiology",
	})

	assert.NoError(t, err)
	require.Len(t, scored, 2)
	assert.Equal(t, "VitalSigns_read", scored[0].Permission)
	assert.Equal(t, 0.95, scored[0].Confidence)
}

func TestRecommendJobTransfer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recommend/job-transfer", r.URL.Path)

		var request map[string]types.Profile
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, "cardiology", request["old_profile"].Department)
		assert.Equal(t, "oncology", request["new_profile"].Department)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"added_permissions":   []types.ScoredPermission{{Permission: "MedicalRecord_update", Confidence: 0.8}},
			"removed_permissions": []types.ScoredPermission{{Permission: "Billing_read", Confidence: 0.7}},
			"kept_permissions":    []types.ScoredPermission{{Permission: "VitalSigns_read", Confidence: 0.99}},
		})
	}))
	defer server.Close()

	client := newTestRecommender(server.URL)
	recommendation, err := client.RecommendJobTransfer(context.Background(),
		types.Profile{Role: types.RoleNurse, Department: "cardiology"},
		types.Profile{Role: types.RoleNurse, Department: "oncology"})

	assert.NoError(t, err)
	require.Len(t, recommendation.Added, 1)
	require.Len(t, recommendation.Removed, 1)
	require.Len(t, recommendation.Kept, 1)
	assert.Equal(t, "MedicalRecord_update", recommendation.Added[0].Permission)
	assert.Equal(t, "Billing_read", recommendation.Removed[0].Permission)
}

func TestRightsizing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recommend/rightsizing", r.URL.Path)

		var request map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, 90, request["lookback_days"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"findings": []RightsizingFinding{
				{PrincipalID: "nurse-1", Permission: "Billing_read", Confidence: 0.75},
			},
		})
	}))
	defer server.Close()

	client := newTestRecommender(server.URL)
	findings, err := client.Rightsizing(context.Background(), 90)

	assert.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "nurse-1", findings[0].PrincipalID)
}

func TestDetectAnomaliesClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/recommend/anomaly", r.URL.Path)

		var request map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		assert.Equal(t, 3, request["risk_threshold"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"anomalies": []AnomalyFinding{
				{PrincipalID: "cashier-2", ResourceType: "AuditLog", Action: "export", RiskScore: 8, Reason: "off_hours_export"},
			},
		})
	}))
	defer server.Close()

	client := newTestRecommender(server.URL)
	findings, err := client.DetectAnomalies(context.Background(), 3)

	assert.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "cashier-2", findings[0].PrincipalID)
	assert.Equal(t, "off_hours_export", findings[0].Reason)
}

func TestRecommender_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestRecommender(server.URL)
	_, err := client.RecommendNewPrincipal(context.Background(), types.Profile{})

	assert.Error(t, err)
	assert.True(t, types.IsErrorType(err, types.ErrorTypeExternal))
}

func TestRecommender_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestRecommender(server.URL)
	_, err := client.Rightsizing(context.Background(), 30)

	assert.Error(t, err)
	assert.True(t, types.IsErrorType(err, types.ErrorTypeExternal))
}

func TestRecommenderHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/health", r.URL.Path)
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		assert.True(t, newTestRecommender(server.URL).Health(context.Background()))
	})

	t.Run("degraded", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		assert.False(t, newTestRecommender(server.URL).Health(context.Background()))
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		assert.False(t, newTestRecommender(server.URL).Health(context.Background()))
	})
}
