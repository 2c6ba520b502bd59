package authz

import (
	"time"

	"github.com/caregrid/authz/pkg/types"
)

// Off-hours window boundaries: before 08:00 or after 18:00 local time.
const (
	workdayStartHour = 8
	workdayEndHour   = 18
)

// bulkRateLimitPerMinute is the advisory ceiling attached to bulk
// requests.
const bulkRateLimitPerMinute = 60

// RiskCalculator derives an additive risk score and a list of advisory
// obligations from a request. It shares the engine's clock so off-hours
// detection is deterministic under test.
type RiskCalculator struct {
	highRiskActions   map[string]struct{}
	highRiskResources map[string]struct{}
	clock             func() time.Time
}

// NewRiskCalculator creates a calculator with the fixed high-risk sets.
func NewRiskCalculator() *RiskCalculator {
	return &RiskCalculator{
		highRiskActions:   stringSet("export", "delete"),
		highRiskResources: stringSet("MedicalRecord", "AuditLog", "AccessPolicy", "SystemConfig"),
		clock:             time.Now,
	}
}

// Score computes the additive risk score for a request at the given
// evaluation time. There is no upper cap and no state carried across
// requests.
func (c *RiskCalculator) Score(request *types.AuthorizationRequest, now time.Time) int {
	score := 0

	if offHours(now) {
		score += 2
	}

	if request.Action == "export" {
		score += 3
	}

	if request.ResourceSensitivity == types.SensitivityHigh {
		score += 2
	}

	if inSet(c.highRiskResources, request.ResourceType) {
		score += 3
	}

	if inSet(c.highRiskActions, request.Action) {
		score += 2
	}

	return score
}

// Obligations derives the advisory follow-up requirements for an allowed
// decision. Obligations are independent of the numeric risk score.
func (c *RiskCalculator) Obligations(principal *types.Principal, request *types.AuthorizationRequest, now time.Time) []types.Obligation {
	var obligations []types.Obligation

	if offHours(now) {
		obligations = append(obligations, types.Obligation{
			Type:   types.ObligationStepUpMFA,
			Reason: "off_hours",
		})
	}

	if request.ResourceType == "PatientProfile" && principal.Role != types.RoleReceptionist {
		obligations = append(obligations, types.Obligation{
			Type:   types.ObligationMaskFields,
			Fields: []string{"national_id", "address"},
			Reason: "privacy_minimization",
		})
	}

	if inSet(c.highRiskActions, request.Action) {
		obligations = append(obligations, types.Obligation{
			Type:   types.ObligationLogHighRisk,
			Reason: "high_risk_action",
		})
	}

	if request.Action == "export" {
		obligations = append(obligations, types.Obligation{
			Type:  types.ObligationRequireApprovalRef,
			Field: "environment.approval_ticket_id",
		})
	}

	if request.Env().IsBulk {
		obligations = append(obligations, types.Obligation{
			Type:           types.ObligationRateLimit,
			LimitPerMinute: bulkRateLimitPerMinute,
			Reason:         "bulk_access_control",
		})
	}

	return obligations
}

func offHours(now time.Time) bool {
	hour := now.Hour()
	return hour < workdayStartHour || hour > workdayEndHour
}
