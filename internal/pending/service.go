package pending

import (
	"context"
	"fmt"
	"strings"

	"github.com/caregrid/authz/internal/authz"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/monitoring"
	"github.com/caregrid/authz/pkg/types"
)

// defaultConfidence is assumed when the recommender omits a score.
const defaultConfidence = 0.6

// SuggestionStore is the persistence surface the workflow needs for
// suggestions and the permission catalog.
type SuggestionStore interface {
	ResolvePermission(ctx context.Context, resourceType, action string) (*types.Permission, error)
	CreatePending(ctx context.Context, s *types.PendingSuggestion) (bool, error)
	HasPending(ctx context.Context, principalID string, permissionID int64, changeType types.ChangeType) (bool, error)
	GetByID(ctx context.Context, id int64) (*types.PendingSuggestion, error)
	ListByPrincipal(ctx context.Context, principalID string, status types.SuggestionStatus) ([]*types.PendingSuggestion, error)
	ListByRequestType(ctx context.Context, requestType types.RequestType, status types.SuggestionStatus) ([]*types.PendingSuggestion, error)
	PendingIDsForPrincipal(ctx context.Context, principalID string) ([]int64, error)
	Stats(ctx context.Context) (*types.SuggestionStats, error)
	Approve(ctx context.Context, id int64, reviewer, notes string) (*types.PendingSuggestion, error)
	Reject(ctx context.Context, id int64, reviewer, notes string) (*types.PendingSuggestion, error)
}

// PrincipalStore is the principal persistence surface.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id string) (*types.Principal, error)
	Create(ctx context.Context, principal *types.Principal) error
	UpdateProfile(ctx context.Context, id string, profile *types.Profile) error
}

// Service implements the pending permission workflow: ingestion of
// recommender output, human review, and job transfers.
type Service struct {
	suggestions SuggestionStore
	principals  PrincipalStore
	recommender Recommender
	table       *authz.PolicyTable
	logger      *logger.Logger
}

// NewService creates the workflow service.
func NewService(suggestions SuggestionStore, principals PrincipalStore, recommender Recommender, table *authz.PolicyTable, log *logger.Logger) *Service {
	return &Service{
		suggestions: suggestions,
		principals:  principals,
		recommender: recommender,
		table:       table,
		logger:      log,
	}
}

// Ingest turns recommender output into Pending suggestions. Unresolvable
// labels are skipped, as are adds the principal already holds through
// their role and suggestions that already have a Pending twin. Returns
// the number of rows created.
func (s *Service) Ingest(ctx context.Context, principalID string, scored []types.ScoredPermission, requestType types.RequestType, changeType types.ChangeType) (int, error) {
	principal, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, suggestion := range scored {
		resourceType, action, ok := parseLabel(suggestion.Permission)
		if !ok {
			s.logger.WithComponent("pending").Debugf("Skipping malformed label %q", suggestion.Permission)
			continue
		}

		perm, err := s.suggestions.ResolvePermission(ctx, resourceType, action)
		if err != nil {
			if types.IsErrorType(err, types.ErrorTypeNotFound) {
				s.logger.WithComponent("pending").Debugf("Skipping unresolvable label %q", suggestion.Permission)
				continue
			}
			return created, err
		}

		// an add for something the role already grants is noise
		if changeType == types.ChangeAdd && s.table.Allows(principal.Role, perm.ResourceType, perm.Action) {
			continue
		}

		exists, err := s.suggestions.HasPending(ctx, principalID, perm.ID, changeType)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}

		confidence := suggestion.Confidence
		if confidence <= 0 {
			confidence = defaultConfidence
		}

		inserted, err := s.suggestions.CreatePending(ctx, &types.PendingSuggestion{
			PrincipalID: principalID,
			Permission:  *perm,
			Confidence:  confidence,
			RequestType: requestType,
			ChangeType:  changeType,
		})
		if err != nil {
			return created, err
		}
		if inserted {
			created++
			monitoring.RecordSuggestionIngested(string(requestType), string(changeType))
		}
	}

	return created, nil
}

// Approve applies one suggestion and marks it Approved.
func (s *Service) Approve(ctx context.Context, id int64, reviewer, notes string) (*types.PendingSuggestion, error) {
	suggestion, err := s.suggestions.Approve(ctx, id, reviewer, notes)
	if err != nil {
		return nil, err
	}

	monitoring.RecordSuggestionReviewed("approved")
	s.logger.Security("suggestion_approved", suggestion.PrincipalID, map[string]interface{}{
		"suggestion_id": suggestion.ID,
		"permission":    suggestion.Permission.Key(),
		"change_type":   suggestion.ChangeType,
		"reviewer":      reviewer,
	})

	return suggestion, nil
}

// Reject marks one suggestion Rejected without touching the permission
// model.
func (s *Service) Reject(ctx context.Context, id int64, reviewer, notes string) (*types.PendingSuggestion, error) {
	suggestion, err := s.suggestions.Reject(ctx, id, reviewer, notes)
	if err != nil {
		return nil, err
	}

	monitoring.RecordSuggestionReviewed("rejected")
	s.logger.Security("suggestion_rejected", suggestion.PrincipalID, map[string]interface{}{
		"suggestion_id": suggestion.ID,
		"permission":    suggestion.Permission.Key(),
		"reviewer":      reviewer,
	})

	return suggestion, nil
}

// BulkApprove approves each id independently; one failure never aborts
// the rest of the batch.
func (s *Service) BulkApprove(ctx context.Context, ids []int64, reviewer, notes string) *types.BulkReviewResult {
	return s.bulkReview(ctx, ids, reviewer, notes, s.Approve)
}

// BulkReject rejects each id independently.
func (s *Service) BulkReject(ctx context.Context, ids []int64, reviewer, notes string) *types.BulkReviewResult {
	return s.bulkReview(ctx, ids, reviewer, notes, s.Reject)
}

func (s *Service) bulkReview(ctx context.Context, ids []int64, reviewer, notes string, review func(context.Context, int64, string, string) (*types.PendingSuggestion, error)) *types.BulkReviewResult {
	result := &types.BulkReviewResult{}

	for _, id := range ids {
		if _, err := review(ctx, id, reviewer, notes); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("suggestion %d: %v", id, err))
			continue
		}
		result.Processed++
	}

	return result
}

// ApproveAllForPrincipal approves every Pending suggestion the principal
// has. Returns the number approved; zero when none were pending.
func (s *Service) ApproveAllForPrincipal(ctx context.Context, principalID, reviewer, notes string) (int, error) {
	ids, err := s.suggestions.PendingIDsForPrincipal(ctx, principalID)
	if err != nil {
		return 0, err
	}

	approved := 0
	for _, id := range ids {
		if _, err := s.Approve(ctx, id, reviewer, notes); err != nil {
			// a concurrent reviewer got there first; skip, don't abort
			if types.IsErrorType(err, types.ErrorTypeInvalidState) {
				continue
			}
			return approved, err
		}
		approved++
	}

	return approved, nil
}

// TransferResult summarizes an initiated job transfer.
type TransferResult struct {
	PrincipalID string            `json:"principal_id"`
	Username    string            `json:"username"`
	OldProfile  types.Profile     `json:"old_profile"`
	NewProfile  types.Profile     `json:"new_profile"`
	ToAdd       int               `json:"to_add"`
	ToRemove    int               `json:"to_remove"`
	Status      string            `json:"status"`
	Changes     map[string]string `json:"changes"`
}

// InitiateJobTransfer updates the principal's profile and ingests the
// recommender's permission delta as JobTransfer suggestions. A
// recommender failure degrades to a transfer without suggestions.
func (s *Service) InitiateJobTransfer(ctx context.Context, principalID string, request *types.JobTransferRequest) (*TransferResult, error) {
	if request.NewDepartment == "" {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "new_department is required")
	}

	principal, err := s.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}

	oldProfile := types.ProfileOf(principal)
	newProfile := mergeProfile(oldProfile, request)

	recommendation, err := s.recommender.RecommendJobTransfer(ctx, oldProfile, newProfile)
	if err != nil {
		s.logger.WithComponent("pending").WithError(err).Warn("Recommender unavailable during job transfer")
		recommendation = nil
	}

	if err := s.principals.UpdateProfile(ctx, principalID, &newProfile); err != nil {
		return nil, err
	}

	result := &TransferResult{
		PrincipalID: principalID,
		Username:    principal.Username,
		OldProfile:  oldProfile,
		NewProfile:  newProfile,
		Status:      "JOB_TRANSFER_INITIATED",
		Changes: map[string]string{
			"department": oldProfile.Department + " -> " + newProfile.Department,
			"branch":     oldProfile.Branch + " -> " + newProfile.Branch,
			"role":       oldProfile.Role + " -> " + newProfile.Role,
		},
	}

	if recommendation != nil {
		added, err := s.Ingest(ctx, principalID, recommendation.Added, types.RequestJobTransfer, types.ChangeAdd)
		if err != nil {
			return nil, err
		}
		removed, err := s.Ingest(ctx, principalID, recommendation.Removed, types.RequestJobTransfer, types.ChangeRemove)
		if err != nil {
			return nil, err
		}
		result.ToAdd = added
		result.ToRemove = removed
	}

	s.logger.Security("job_transfer_initiated", principalID, map[string]interface{}{
		"old_department": oldProfile.Department,
		"new_department": newProfile.Department,
		"to_add":         result.ToAdd,
		"to_remove":      result.ToRemove,
	})

	return result, nil
}

// OnboardPrincipal creates a principal and ingests the recommender's
// starter suggestions for them. The principal exists even when the
// recommender is down.
func (s *Service) OnboardPrincipal(ctx context.Context, principal *types.Principal) (int, error) {
	if err := s.principals.Create(ctx, principal); err != nil {
		return 0, err
	}

	scored, err := s.recommender.RecommendNewPrincipal(ctx, types.ProfileOf(principal))
	if err != nil {
		s.logger.WithComponent("pending").WithError(err).Warn("Recommender unavailable during onboarding")
		return 0, nil
	}

	return s.Ingest(ctx, principal.ID, scored, types.RequestNewPrincipal, types.ChangeAdd)
}

// RunRightsizing asks the recommender for likely-unused grants over the
// lookback window and ingests them as removal suggestions.
func (s *Service) RunRightsizing(ctx context.Context, lookbackDays int) (int, error) {
	findings, err := s.recommender.Rightsizing(ctx, lookbackDays)
	if err != nil {
		return 0, err
	}

	byPrincipal := map[string][]types.ScoredPermission{}
	for _, finding := range findings {
		byPrincipal[finding.PrincipalID] = append(byPrincipal[finding.PrincipalID], types.ScoredPermission{
			Permission: finding.Permission,
			Confidence: finding.Confidence,
		})
	}

	created := 0
	for principalID, scored := range byPrincipal {
		count, err := s.Ingest(ctx, principalID, scored, types.RequestRightsizing, types.ChangeRemove)
		if err != nil {
			if types.IsErrorType(err, types.ErrorTypeNotFound) {
				continue
			}
			return created, err
		}
		created += count
	}

	return created, nil
}

// DetectAnomalies asks the recommender for suspicious access events at or
// above the risk threshold. Findings are advisory; nothing is persisted.
func (s *Service) DetectAnomalies(ctx context.Context, riskThreshold int) ([]AnomalyFinding, error) {
	findings, err := s.recommender.DetectAnomalies(ctx, riskThreshold)
	if err != nil {
		return nil, err
	}

	if len(findings) > 0 {
		s.logger.Security("anomalies_detected", "", map[string]interface{}{
			"risk_threshold": riskThreshold,
			"count":          len(findings),
		})
	}

	return findings, nil
}

// ListForPrincipal returns a principal's suggestions, optionally filtered
// by status.
func (s *Service) ListForPrincipal(ctx context.Context, principalID string, status types.SuggestionStatus) ([]*types.PendingSuggestion, error) {
	if _, err := s.principals.GetPrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	return s.suggestions.ListByPrincipal(ctx, principalID, status)
}

// ListByRequestType returns suggestions of one origin.
func (s *Service) ListByRequestType(ctx context.Context, requestType types.RequestType, status types.SuggestionStatus) ([]*types.PendingSuggestion, error) {
	return s.suggestions.ListByRequestType(ctx, requestType, status)
}

// Stats returns suggestion counts by lifecycle state.
func (s *Service) Stats(ctx context.Context) (*types.SuggestionStats, error) {
	return s.suggestions.Stats(ctx)
}

// RecommenderHealthy reports whether the recommender answers its probe.
func (s *Service) RecommenderHealthy(ctx context.Context) bool {
	return s.recommender.Health(ctx)
}

// parseLabel splits a ResourceType_action label.
func parseLabel(label string) (resourceType, action string, ok bool) {
	parts := strings.SplitN(label, "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// mergeProfile resolves the post-transfer profile: request fields win,
// absent fields keep their current values.
func mergeProfile(current types.Profile, request *types.JobTransferRequest) types.Profile {
	merged := current
	merged.Department = request.NewDepartment

	if request.NewRole != "" {
		merged.Role = request.NewRole
	}
	if request.NewBranch != "" {
		merged.Branch = request.NewBranch
	}
	if request.NewPosition != "" {
		merged.Position = request.NewPosition
	}
	if request.HasLicense != nil {
		if *request.HasLicense {
			merged.License = "Yes"
		} else {
			merged.License = "No"
		}
	}
	if request.Seniority != "" {
		merged.Seniority = request.Seniority
	}

	return merged
}
