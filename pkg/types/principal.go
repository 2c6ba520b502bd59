package types

import (
	"time"
)

// Role names known to the authorization core. The role -> permission table
// is static configuration; it changes via data migration, never at runtime.
const (
	RoleDoctor        = "Doctor"
	RoleNurse         = "Nurse"
	RoleReceptionist  = "Receptionist"
	RoleCashier       = "Cashier"
	RoleHR            = "HR"
	RoleManager       = "Manager"
	RoleITAdmin       = "ITAdmin"
	RoleSecurityAdmin = "SecurityAdmin"
)

// Seniority tiers carried on a principal's profile.
const (
	SeniorityJunior = "Junior"
	SenioritySenior = "Senior"
)

// Principal is the authenticated actor attempting an action. It is built
// once by the authentication layer and is read-only for the lifetime of
// the request.
type Principal struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Role             string    `json:"role"`
	Branch           string    `json:"branch"`
	Department       string    `json:"department"`
	Position         string    `json:"position,omitempty"`
	HasLicense       bool      `json:"has_license"`
	Seniority        string    `json:"seniority"`
	EmploymentType   string    `json:"employment_type,omitempty"`
	AssignedPatients []string  `json:"assigned_patients,omitempty"`
	// AdditionalPermissions are ad-hoc permission keys granted directly to
	// the principal via the pending-permission workflow. They are surfaced
	// for listing and never consulted by the RBAC gate.
	AdditionalPermissions []Permission `json:"additional_permissions,omitempty"`
	CreatedAt             time.Time    `json:"created_at,omitempty"`
}

// HasAssignedPatient reports whether patientID is in the principal's
// assignment set.
func (p *Principal) HasAssignedPatient(patientID string) bool {
	for _, id := range p.AssignedPatients {
		if id == patientID {
			return true
		}
	}
	return false
}

// ScopeAny is the default wildcard scope for permissions.
const ScopeAny = "any"

// Permission identifies a grantable capability. Permissions are immutable
// once created; the composite key is resourceType:action:scope.
type Permission struct {
	ID           int64  `json:"id"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	Scope        string `json:"scope"`
	Description  string `json:"description,omitempty"`
}

// Key returns the composite key in its canonical text form.
func (p Permission) Key() string {
	scope := p.Scope
	if scope == "" {
		scope = ScopeAny
	}
	return p.ResourceType + ":" + p.Action + ":" + scope
}

// JobTransferRequest describes a profile change for a principal. The
// pending-permission workflow uses the old and new profiles to ask the
// recommender for permission deltas.
type JobTransferRequest struct {
	NewRole       string `json:"new_role,omitempty"`
	NewDepartment string `json:"new_department"`
	NewBranch     string `json:"new_branch,omitempty"`
	NewPosition   string `json:"new_position,omitempty"`
	HasLicense    *bool  `json:"has_license,omitempty"`
	Seniority     string `json:"seniority,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Profile is the flattened principal profile sent to the recommender.
type Profile struct {
	Role           string `json:"role"`
	Department     string `json:"department"`
	Branch         string `json:"branch"`
	License        string `json:"license"`
	Seniority      string `json:"seniority"`
	Position       string `json:"position,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
}

// ProfileOf builds the recommender profile for a principal.
func ProfileOf(p *Principal) Profile {
	license := "No"
	if p.HasLicense {
		license = "Yes"
	}
	seniority := p.Seniority
	if seniority == "" {
		seniority = SeniorityJunior
	}
	position := p.Position
	if position == "" {
		position = p.Role
	}
	return Profile{
		Role:           p.Role,
		Department:     p.Department,
		Branch:         p.Branch,
		License:        license,
		Seniority:      seniority,
		Position:       position,
		EmploymentType: p.EmploymentType,
	}
}
