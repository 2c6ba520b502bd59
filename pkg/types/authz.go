package types

// Resource sensitivity levels carried on authorization requests.
const (
	SensitivityNormal = "Normal"
	SensitivityHigh   = "High"
)

// Environment holds the optional contextual flags a caller may attach to
// an authorization request. Absent means false/empty.
type Environment struct {
	EmergencyMode    bool   `json:"emergency_mode,omitempty"`
	ExportApproved   bool   `json:"export_approved,omitempty"`
	IsBulk           bool   `json:"is_bulk,omitempty"`
	ApprovalTicketID string `json:"approval_ticket_id,omitempty"`
}

// AuthorizationRequest describes one attempted operation. It is built
// fresh per call and never persisted as-is.
type AuthorizationRequest struct {
	ResourceType        string       `json:"resource_type"`
	Action              string       `json:"action"`
	ResourceID          string       `json:"resource_id,omitempty"`
	ResourceBranch      string       `json:"resource_branch,omitempty"`
	ResourceDepartment  string       `json:"resource_department,omitempty"`
	PatientID           string       `json:"patient_id,omitempty"`
	ResourceSensitivity string       `json:"resource_sensitivity,omitempty"`
	CreatedBy           string       `json:"created_by,omitempty"`
	Environment         *Environment `json:"environment,omitempty"`
}

// Env returns the request environment, never nil.
func (r *AuthorizationRequest) Env() Environment {
	if r.Environment == nil {
		return Environment{}
	}
	return *r.Environment
}

// Obligation types attached to allowed decisions. Obligations are advisory
// to the caller; the engine never enforces them itself.
const (
	ObligationStepUpMFA          = "step_up_mfa"
	ObligationMaskFields         = "mask_fields"
	ObligationLogHighRisk        = "log_high_risk"
	ObligationRequireApprovalRef = "require_approval_ref"
	ObligationRateLimit          = "rate_limit"
)

// Obligation is a typed follow-up requirement attached to a decision.
type Obligation struct {
	Type           string   `json:"type"`
	Reason         string   `json:"reason,omitempty"`
	Fields         []string `json:"fields,omitempty"`
	Field          string   `json:"field,omitempty"`
	LimitPerMinute int      `json:"limit_per_minute,omitempty"`
}

// Decision is the engine's answer to an authorization request. DenyReasons
// is empty iff Allowed; obligations accompany allowed decisions only.
type Decision struct {
	Allowed     bool         `json:"allowed"`
	PolicyID    string       `json:"policy_id"`
	DenyReasons []string     `json:"deny_reasons"`
	Obligations []Obligation `json:"obligations"`
	RiskScore   int          `json:"risk_score"`
}

// Deny reason codes produced by the explicit deny rules.
const (
	DenyReceptionistNoClinicalAccess = "RECEPTIONIST_NO_CLINICAL_ACCESS"
	DenyCashierNoClinicalAccess      = "CASHIER_NO_CLINICAL_ACCESS"
	DenyHRNoPatientOrFinanceAccess   = "HR_NO_PATIENT_OR_FINANCE_ACCESS"
	DenyITAdminNoPatientData         = "ITADMIN_NO_PATIENT_DATA"
	DenyNoDeletePatientData          = "NO_DELETE_PATIENT_DATA"
	DenyExportRequiresApproval       = "EXPORT_REQUIRES_APPROVAL_OR_EMERGENCY"
	DenyEmergencyExportRoleOnly      = "ONLY_SECURITYADMIN_CAN_EXPORT_IN_EMERGENCY"
	DenyBranchMismatch               = "BRANCH_MISMATCH"
	DenySoDCreatorCannotApprove      = "SOD_CREATOR_CANNOT_APPROVE"
)
