package authz

import (
	"sort"
	"strings"

	"github.com/caregrid/authz/pkg/types"
)

// PolicyTable is the static role -> resourceType -> allowed-actions table.
// It is constructed once at startup and shared read-only across all
// concurrent evaluations; it changes only via controlled data migration.
type PolicyTable struct {
	rolePermissions map[string]map[string]map[string]struct{}
}

// NewPolicyTable builds a PolicyTable from a role -> resourceType ->
// actions mapping.
func NewPolicyTable(perms map[string]map[string][]string) *PolicyTable {
	table := make(map[string]map[string]map[string]struct{}, len(perms))
	for role, resources := range perms {
		table[role] = make(map[string]map[string]struct{}, len(resources))
		for resourceType, actions := range resources {
			actionSet := make(map[string]struct{}, len(actions))
			for _, action := range actions {
				actionSet[action] = struct{}{}
			}
			table[role][resourceType] = actionSet
		}
	}
	return &PolicyTable{rolePermissions: table}
}

// Allows reports whether the role's static table lists the
// (resourceType, action) pair. Unknown roles and resource types are not
// listed, so they are simply not allowed.
func (t *PolicyTable) Allows(role, resourceType, action string) bool {
	resources, ok := t.rolePermissions[role]
	if !ok {
		return false
	}
	actions, ok := resources[resourceType]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// RolePermissions returns the resourceType -> sorted actions mapping for
// a role. The result is a copy; the table itself is never exposed.
func (t *PolicyTable) RolePermissions(role string) map[string][]string {
	resources, ok := t.rolePermissions[role]
	if !ok {
		return map[string][]string{}
	}
	result := make(map[string][]string, len(resources))
	for resourceType, actions := range resources {
		list := make([]string, 0, len(actions))
		for action := range actions {
			list = append(list, action)
		}
		sort.Strings(list)
		result[resourceType] = list
	}
	return result
}

// EffectivePermissions merges the principal's role-table permissions with
// their ad-hoc additional permissions, grouped by resource type with
// comma-joined sorted actions. Used for capability listing only; the
// ad-hoc set does not participate in the RBAC gate.
func (t *PolicyTable) EffectivePermissions(principal *types.Principal) map[string]string {
	merged := make(map[string]map[string]struct{})
	for resourceType, actions := range t.RolePermissions(principal.Role) {
		set := make(map[string]struct{}, len(actions))
		for _, action := range actions {
			set[action] = struct{}{}
		}
		merged[resourceType] = set
	}
	for _, perm := range principal.AdditionalPermissions {
		set, ok := merged[perm.ResourceType]
		if !ok {
			set = make(map[string]struct{})
			merged[perm.ResourceType] = set
		}
		set[perm.Action] = struct{}{}
	}

	result := make(map[string]string, len(merged))
	for resourceType, actions := range merged {
		list := make([]string, 0, len(actions))
		for action := range actions {
			list = append(list, action)
		}
		sort.Strings(list)
		result[resourceType] = strings.Join(list, ",")
	}
	return result
}

// DefaultPolicyTable returns the hospital role permission table.
func DefaultPolicyTable() *PolicyTable {
	return NewPolicyTable(DefaultRolePermissions())
}

// DefaultRolePermissions returns the raw role -> resourceType -> actions
// mapping behind DefaultPolicyTable. Callers get a fresh copy each time;
// the permission catalog seeding reads it at startup.
func DefaultRolePermissions() map[string]map[string][]string {
	return map[string]map[string][]string{
		types.RoleDoctor: {
			"PatientProfile":   {"read"},
			"MedicalRecord":    {"read", "create", "update"},
			"ClinicalNote":     {"read", "create"},
			"VitalSigns":       {"read"},
			"Prescription":     {"read", "create", "update", "approve"},
			"LabOrder":         {"create", "read"},
			"LabResult":        {"read"},
			"ImagingOrder":     {"create", "read"},
			"ImagingResult":    {"read"},
			"AdmissionRecord":  {"read"},
			"TransferRecord":   {"read"},
			"DischargeSummary": {"create", "read"},
			"MedicalReport":    {"read"},
		},
		types.RoleNurse: {
			"PatientProfile":   {"read"},
			"MedicalRecord":    {"read"},
			"ClinicalNote":     {"read"},
			"VitalSigns":       {"read", "create", "update"},
			"LabResult":        {"read"},
			"ImagingResult":    {"read"},
			"AdmissionRecord":  {"read"},
			"TransferRecord":   {"read"},
			"DischargeSummary": {"read"},
		},
		types.RoleReceptionist: {
			"PatientProfile":  {"create", "read", "update"},
			"Appointment":     {"create", "read", "update"},
			"AdmissionRecord": {"create", "read"},
			"TransferRecord":  {"create", "read"},
		},
		types.RoleCashier: {
			"BillingRecord":   {"create", "read", "update"},
			"Invoice":         {"create", "read", "update"},
			"InsuranceClaim":  {"create", "read", "update"},
			"FinancialReport": {"read"},
		},
		types.RoleHR: {
			"StaffProfile":    {"create", "read", "update"},
			"WorkSchedule":    {"create", "read", "update"},
			"TrainingRecord":  {"create", "read", "update"},
			"OperationReport": {"read"},
		},
		types.RoleManager: {
			"MedicalReport":   {"read"},
			"OperationReport": {"read"},
			"FinancialReport": {"read"},
			"WorkSchedule":    {"read"},
			"StaffProfile":    {"read"},
		},
		types.RoleITAdmin: {
			"SystemConfig": {"read", "update"},
			"AccessPolicy": {"read"},
			"AuditLog":     {"read"},
		},
		types.RoleSecurityAdmin: {
			"AuditLog":     {"read"},
			"IncidentCase": {"create", "read", "update"},
			"AccessPolicy": {"read", "update"},
			"SystemConfig": {"read"},
		},
	}
}

// Resource type families used by the deny rules and ABAC conditions.
var (
	clinicalResources = stringSet(
		"MedicalRecord", "ClinicalNote", "VitalSigns", "Prescription",
		"LabResult", "ImagingResult", "DischargeSummary",
	)

	// Clinical resource types minus discharge summaries, which the
	// cashier and HR prohibitions do not cover.
	coreClinicalResources = stringSet(
		"MedicalRecord", "ClinicalNote", "VitalSigns", "Prescription",
		"LabResult", "ImagingResult",
	)

	patientDataResources = stringSet(
		"MedicalRecord", "ClinicalNote", "VitalSigns", "Prescription",
		"LabResult", "ImagingResult", "PatientProfile",
	)

	financeResources = stringSet("BillingRecord", "Invoice", "InsuranceClaim")

	staffResources = stringSet("StaffProfile", "WorkSchedule", "TrainingRecord")

	reportResources = stringSet("MedicalReport", "OperationReport", "FinancialReport")

	systemResources = stringSet("SystemConfig", "AccessPolicy", "AuditLog", "IncidentCase")

	admissionResources = stringSet("AdmissionRecord", "TransferRecord")

	// Creator-attributable resource types subject to separation of duties
	// on approve.
	sodApproveResources = stringSet("Invoice", "InsuranceClaim", "Prescription")

	// Roles confined to their home branch.
	branchBoundRoles = stringSet(
		types.RoleDoctor, types.RoleNurse, types.RoleReceptionist,
		types.RoleCashier, types.RoleHR,
	)
)

func stringSet(values ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func inSet(set map[string]struct{}, value string) bool {
	_, ok := set[value]
	return ok
}
