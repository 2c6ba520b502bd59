package types

import "time"

// ResourceIDNone is recorded when an audited operation has no concrete
// resource identifier.
const ResourceIDNone = "N/A"

// AuditRecord is one immutable entry in the audit trail. Records are
// write-once; nothing in this core updates or deletes them.
type AuditRecord struct {
	ID           string    `json:"id"`
	PrincipalID  string    `json:"principal_id"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Action       string    `json:"action"`
	Allowed      bool      `json:"allowed"`
	PolicyID     string    `json:"policy_id"`
	DenyReasons  string    `json:"deny_reasons,omitempty"`
	RiskScore    *int      `json:"risk_score,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
}

// AuditFilter narrows audit queries. Zero values mean "no constraint".
type AuditFilter struct {
	PrincipalID  string     `json:"principal_id,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	Allowed      *bool      `json:"allowed,omitempty"`
	Start        *time.Time `json:"start,omitempty"`
	End          *time.Time `json:"end,omitempty"`
	MinRiskScore *int       `json:"min_risk_score,omitempty"`
	Limit        int        `json:"limit,omitempty"`
	Offset       int        `json:"offset,omitempty"`
}
