package authz

import (
	"strings"
	"time"

	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

// Engine computes allow/deny decisions by combining the static role table,
// explicit deny rules and attribute-based conditions. It performs no I/O;
// identical inputs produce identical decisions apart from the risk score's
// dependency on time of day.
type Engine struct {
	table  *PolicyTable
	risk   *RiskCalculator
	logger *logger.Logger
	clock  func() time.Time
}

// NewEngine creates a decision engine over the given policy table.
func NewEngine(table *PolicyTable, log *logger.Logger) *Engine {
	clock := time.Now
	return &Engine{
		table:  table,
		risk:   NewRiskCalculator(),
		logger: log,
		clock:  clock,
	}
}

// WithClock overrides the engine's clock. Used by tests to pin the
// off-hours logic.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.risk.clock = clock
	return e
}

// Authorize evaluates one request for a principal and returns the
// decision. Denial is a normal return value, never an error; an unknown
// resource type or action simply fails the RBAC gate.
func (e *Engine) Authorize(principal *types.Principal, request *types.AuthorizationRequest) *types.Decision {
	now := e.clock()

	denyReasons := e.checkDenyRules(principal, request)

	rbacAllows := e.table.Allows(principal.Role, request.ResourceType, request.Action)
	abacOk := e.checkAbacConditions(principal, request)

	allowed := rbacAllows && abacOk && len(denyReasons) == 0

	riskScore := e.risk.Score(request, now)

	var obligations []types.Obligation
	if allowed {
		obligations = e.risk.Obligations(principal, request, now)
	}

	var policyID string
	if allowed {
		policyID = "ALLOW_" + principal.Role + "_" + request.ResourceType + "_" + request.Action
	} else if len(denyReasons) == 0 {
		policyID = "DENY_UNAUTHORIZED"
	} else {
		policyID = "DENY_" + strings.Join(denyReasons, "_")
	}

	e.logger.Decision(principal.ID, request.ResourceType, request.Action, allowed, policyID, riskScore)

	return &types.Decision{
		Allowed:     allowed,
		PolicyID:    policyID,
		DenyReasons: denyReasons,
		Obligations: obligations,
		RiskScore:   riskScore,
	}
}

// HasPermission is the role-table-only check used for UI capability
// hints. It ignores deny rules and ABAC conditions.
func (e *Engine) HasPermission(role, resourceType, action string) bool {
	return e.table.Allows(role, resourceType, action)
}

// EffectivePermissions lists the principal's merged role and ad-hoc
// permissions grouped by resource type.
func (e *Engine) EffectivePermissions(principal *types.Principal) map[string]string {
	return e.table.EffectivePermissions(principal)
}

// checkDenyRules evaluates the fixed list of explicit prohibitions. Rules
// are independent and all are evaluated so a decision can carry multiple
// simultaneous reasons.
func (e *Engine) checkDenyRules(principal *types.Principal, request *types.AuthorizationRequest) []string {
	denyReasons := []string{}
	role := principal.Role
	resourceType := request.ResourceType
	action := request.Action

	if role == types.RoleReceptionist && inSet(clinicalResources, resourceType) {
		denyReasons = append(denyReasons, types.DenyReceptionistNoClinicalAccess)
	}

	if role == types.RoleCashier && inSet(coreClinicalResources, resourceType) {
		denyReasons = append(denyReasons, types.DenyCashierNoClinicalAccess)
	}

	if role == types.RoleHR && (inSet(coreClinicalResources, resourceType) || inSet(financeResources, resourceType)) {
		denyReasons = append(denyReasons, types.DenyHRNoPatientOrFinanceAccess)
	}

	if role == types.RoleITAdmin && inSet(patientDataResources, resourceType) {
		denyReasons = append(denyReasons, types.DenyITAdminNoPatientData)
	}

	if action == "delete" && inSet(patientDataResources, resourceType) {
		denyReasons = append(denyReasons, types.DenyNoDeletePatientData)
	}

	// Export of medical records needs either a prior approval ticket or
	// emergency mode; the emergency bypass is restricted to SecurityAdmin
	// and the two triggers are mutually exclusive.
	if action == "export" && resourceType == "MedicalRecord" {
		env := request.Env()
		if !env.EmergencyMode && !env.ExportApproved {
			denyReasons = append(denyReasons, types.DenyExportRequiresApproval)
		} else if env.EmergencyMode && role != types.RoleSecurityAdmin {
			denyReasons = append(denyReasons, types.DenyEmergencyExportRoleOnly)
		}
	}

	if inSet(branchBoundRoles, role) {
		if request.ResourceBranch != "" && request.ResourceBranch != principal.Branch {
			denyReasons = append(denyReasons, types.DenyBranchMismatch)
		}
	}

	if action == "approve" && inSet(sodApproveResources, resourceType) {
		if request.CreatedBy != "" && request.CreatedBy == principal.ID {
			denyReasons = append(denyReasons, types.DenySoDCreatorCannotApprove)
		}
	}

	return denyReasons
}

// checkAbacConditions evaluates the per-family attribute conditions.
// Resource types outside every family default to true; ABAC is opt-in
// per family, not a universal filter.
func (e *Engine) checkAbacConditions(principal *types.Principal, request *types.AuthorizationRequest) bool {
	resourceType := request.ResourceType

	if inSet(clinicalResources, resourceType) {
		return e.checkClinicalAbac(principal, request)
	}

	if resourceType == "PatientProfile" || resourceType == "Appointment" {
		return sameBranch(principal, request)
	}

	if inSet(admissionResources, resourceType) {
		return sameBranch(principal, request)
	}

	if inSet(financeResources, resourceType) {
		return sameBranch(principal, request)
	}

	if inSet(staffResources, resourceType) {
		return e.checkStaffAbac(principal, request)
	}

	if inSet(reportResources, resourceType) {
		return e.checkReportAbac(principal, request)
	}

	if inSet(systemResources, resourceType) {
		return principal.Role == types.RoleITAdmin || principal.Role == types.RoleSecurityAdmin
	}

	return true
}

func (e *Engine) checkClinicalAbac(principal *types.Principal, request *types.AuthorizationRequest) bool {
	switch principal.Role {
	case types.RoleDoctor:
		return patientAssigned(principal, request)
	case types.RoleNurse:
		return patientAssigned(principal, request) && sameDepartment(principal, request)
	default:
		return false
	}
}

func (e *Engine) checkStaffAbac(principal *types.Principal, request *types.AuthorizationRequest) bool {
	switch principal.Role {
	case types.RoleHR:
		return sameBranch(principal, request)
	case types.RoleManager:
		return sameBranch(principal, request) && sameDepartment(principal, request)
	default:
		return false
	}
}

func (e *Engine) checkReportAbac(principal *types.Principal, request *types.AuthorizationRequest) bool {
	if sameBranch(principal, request) {
		return true
	}

	// Cross-branch medical report visibility: doctors see their own
	// authored content anywhere; managers only within their department.
	if request.ResourceType == "MedicalReport" {
		switch principal.Role {
		case types.RoleManager:
			return sameDepartment(principal, request)
		case types.RoleDoctor:
			return true
		}
	}

	return false
}

func patientAssigned(principal *types.Principal, request *types.AuthorizationRequest) bool {
	if request.PatientID == "" {
		return true
	}
	return principal.HasAssignedPatient(request.PatientID)
}

func sameBranch(principal *types.Principal, request *types.AuthorizationRequest) bool {
	if request.ResourceBranch == "" {
		return true
	}
	return principal.Branch == request.ResourceBranch
}

func sameDepartment(principal *types.Principal, request *types.AuthorizationRequest) bool {
	if request.ResourceDepartment == "" {
		return true
	}
	return principal.Department == request.ResourceDepartment
}
