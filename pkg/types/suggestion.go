package types

import "time"

// SuggestionStatus is the lifecycle state of a pending permission
// suggestion. Approved and Rejected are terminal.
type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "PENDING"
	StatusApproved SuggestionStatus = "APPROVED"
	StatusRejected SuggestionStatus = "REJECTED"
)

// ChangeType says whether a suggestion adds or removes a permission from
// the principal's ad-hoc set.
type ChangeType string

const (
	ChangeAdd    ChangeType = "ADD"
	ChangeRemove ChangeType = "REMOVE"
)

// RequestType tags the origin of a suggestion batch.
type RequestType string

const (
	RequestNewPrincipal RequestType = "NEW_PRINCIPAL"
	RequestJobTransfer  RequestType = "JOB_TRANSFER"
	RequestRightsizing  RequestType = "RIGHTSIZING"
)

// PendingSuggestion links a principal to a recommender-suggested permission
// change awaiting human review. Created only by the workflow's ingestion
// path; transitions to a terminal state only through a reviewer action.
type PendingSuggestion struct {
	ID          int64            `json:"id"`
	PrincipalID string           `json:"principal_id"`
	Permission  Permission       `json:"permission"`
	Confidence  float64          `json:"confidence"`
	RequestType RequestType      `json:"request_type"`
	ChangeType  ChangeType       `json:"change_type"`
	Status      SuggestionStatus `json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	ReviewedBy  string           `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time       `json:"reviewed_at,omitempty"`
	ReviewNotes string           `json:"review_notes,omitempty"`
}

// ScoredPermission is one raw recommender suggestion: a permission label
// in ResourceType_action form plus a confidence in [0,1]. Recommender
// output is untrusted; unresolvable labels are skipped during ingestion.
type ScoredPermission struct {
	Permission string  `json:"permission"`
	Confidence float64 `json:"confidence"`
}

// BulkReviewResult summarizes a bulk approve/reject pass. Per-item
// failures are collected rather than aborting the batch.
type BulkReviewResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// SuggestionStats counts suggestions by lifecycle state.
type SuggestionStats struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Total    int64 `json:"total"`
}
