package pending

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/caregrid/authz/pkg/config"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

// Recommender is the external scored-suggestion source. Its output is
// untrusted hints only; every returned label goes through ingestion's
// resolution and dedup before anything is persisted.
type Recommender interface {
	RecommendNewPrincipal(ctx context.Context, profile types.Profile) ([]types.ScoredPermission, error)
	RecommendJobTransfer(ctx context.Context, oldProfile, newProfile types.Profile) (*TransferRecommendation, error)
	Rightsizing(ctx context.Context, lookbackDays int) ([]RightsizingFinding, error)
	DetectAnomalies(ctx context.Context, riskThreshold int) ([]AnomalyFinding, error)
	Health(ctx context.Context) bool
}

// TransferRecommendation is the recommender's permission delta for a
// profile change.
type TransferRecommendation struct {
	Added   []types.ScoredPermission `json:"added_permissions"`
	Removed []types.ScoredPermission `json:"removed_permissions"`
	Kept    []types.ScoredPermission `json:"kept_permissions,omitempty"`
}

// RightsizingFinding flags one likely-unused permission grant.
type RightsizingFinding struct {
	PrincipalID string  `json:"principal_id"`
	Permission  string  `json:"permission"`
	Confidence  float64 `json:"confidence"`
}

// AnomalyFinding flags one suspicious access event in the audit trail.
type AnomalyFinding struct {
	PrincipalID  string  `json:"principal_id"`
	ResourceType string  `json:"resource_type"`
	Action       string  `json:"action"`
	RiskScore    int     `json:"risk_score"`
	Reason       string  `json:"reason,omitempty"`
	Timestamp    string  `json:"timestamp,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// RecommenderClient talks to the recommendation service over HTTP.
type RecommenderClient struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewRecommenderClient creates an HTTP client for the recommender.
func NewRecommenderClient(cfg *config.RecommenderConfig, log *logger.Logger) *RecommenderClient {
	return &RecommenderClient{
		baseURL: cfg.URL,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
		logger: log,
	}
}

// RecommendNewPrincipal asks for starter permissions for a fresh profile.
func (c *RecommenderClient) RecommendNewPrincipal(ctx context.Context, profile types.Profile) ([]types.ScoredPermission, error) {
	var response struct {
		Recommendations []types.ScoredPermission `json:"recommendations"`
	}

	if err := c.post(ctx, "/recommend/new-user", profile, &response); err != nil {
		return nil, err
	}

	return response.Recommendations, nil
}

// RecommendJobTransfer asks for the permission delta between two profiles.
func (c *RecommenderClient) RecommendJobTransfer(ctx context.Context, oldProfile, newProfile types.Profile) (*TransferRecommendation, error) {
	request := map[string]types.Profile{
		"old_profile": oldProfile,
		"new_profile": newProfile,
	}

	var response TransferRecommendation
	if err := c.post(ctx, "/recommend/job-transfer", request, &response); err != nil {
		return nil, err
	}

	return &response, nil
}

// Rightsizing asks for grants that look unused over the lookback window.
func (c *RecommenderClient) Rightsizing(ctx context.Context, lookbackDays int) ([]RightsizingFinding, error) {
	request := map[string]int{"lookback_days": lookbackDays}

	var response struct {
		Findings []RightsizingFinding `json:"findings"`
	}
	if err := c.post(ctx, "/recommend/rightsizing", request, &response); err != nil {
		return nil, err
	}

	return response.Findings, nil
}

// DetectAnomalies asks for suspicious access events at or above the risk
// threshold.
func (c *RecommenderClient) DetectAnomalies(ctx context.Context, riskThreshold int) ([]AnomalyFinding, error) {
	request := map[string]int{"risk_threshold": riskThreshold}

	var response struct {
		Anomalies []AnomalyFinding `json:"anomalies"`
	}
	if err := c.post(ctx, "/recommend/anomaly", request, &response); err != nil {
		return nil, err
	}

	return response.Anomalies, nil
}

// Health probes the recommender.
func (c *RecommenderClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithComponent("recommender").WithError(err).Warn("Recommender health check failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (c *RecommenderClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "Failed to encode recommender request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return types.NewInternalError(types.ErrCodeInternalError, "Failed to build recommender request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return types.NewExternalError(types.ErrCodeRecommenderError, "Recommender unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewExternalError(types.ErrCodeRecommenderError,
			fmt.Sprintf("Recommender returned status %d", resp.StatusCode), nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewExternalError(types.ErrCodeRecommenderError, "Invalid recommender response", err)
	}

	return nil
}
