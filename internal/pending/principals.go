package pending

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/caregrid/authz/pkg/database"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

// PrincipalRepository implements principal persistence on PostgreSQL.
type PrincipalRepository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewPrincipalRepository creates a new principal repository.
func NewPrincipalRepository(db *database.DB, log *logger.Logger) *PrincipalRepository {
	return &PrincipalRepository{
		db:     db.DB,
		logger: log,
	}
}

// GetPrincipal loads a principal with their ad-hoc permissions.
func (r *PrincipalRepository) GetPrincipal(ctx context.Context, id string) (*types.Principal, error) {
	query := `
		SELECT id, username, role, branch, department, position, has_license,
			seniority, employment_type, assigned_patients, created_at
		FROM principals
		WHERE id = $1`

	var principal types.Principal
	var position sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&principal.ID,
		&principal.Username,
		&principal.Role,
		&principal.Branch,
		&principal.Department,
		&position,
		&principal.HasLicense,
		&principal.Seniority,
		&principal.EmploymentType,
		pq.Array(&principal.AssignedPatients),
		&principal.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodePrincipalNotFound, "Principal not found")
		}
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	principal.Position = position.String

	permissions, err := r.additionalPermissions(ctx, id)
	if err != nil {
		return nil, err
	}
	principal.AdditionalPermissions = permissions

	return &principal, nil
}

// Create inserts a new principal.
func (r *PrincipalRepository) Create(ctx context.Context, principal *types.Principal) error {
	query := `
		INSERT INTO principals (id, username, role, branch, department, position,
			has_license, seniority, employment_type, assigned_patients)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	seniority := principal.Seniority
	if seniority == "" {
		seniority = types.SeniorityJunior
	}
	employmentType := principal.EmploymentType
	if employmentType == "" {
		employmentType = "FullTime"
	}
	assigned := principal.AssignedPatients
	if assigned == nil {
		assigned = []string{}
	}

	_, err := r.db.ExecContext(ctx, query,
		principal.ID,
		principal.Username,
		principal.Role,
		principal.Branch,
		principal.Department,
		nullIfEmpty(principal.Position),
		principal.HasLicense,
		seniority,
		employmentType,
		pq.Array(assigned),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return types.NewValidationError(types.ErrCodeInvalidInput, "Principal already exists")
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}

	r.logger.WithPrincipal(principal.ID).Info("Principal created")
	return nil
}

// UpdateProfile applies a job-transfer profile change. All fields are the
// resolved post-transfer values.
func (r *PrincipalRepository) UpdateProfile(ctx context.Context, id string, profile *types.Profile) error {
	query := `
		UPDATE principals
		SET role = $1, department = $2, branch = $3, position = $4,
			has_license = $5, seniority = $6
		WHERE id = $7`

	result, err := r.db.ExecContext(ctx, query,
		profile.Role,
		profile.Department,
		profile.Branch,
		nullIfEmpty(profile.Position),
		profile.License == "Yes",
		profile.Seniority,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update principal profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return types.NewNotFoundError(types.ErrCodePrincipalNotFound, "Principal not found")
	}

	return nil
}

func (r *PrincipalRepository) additionalPermissions(ctx context.Context, principalID string) ([]types.Permission, error) {
	query := `
		SELECT p.id, p.resource_type, p.action, p.scope
		FROM principal_additional_permissions ap
		JOIN permissions p ON p.id = ap.permission_id
		WHERE ap.principal_id = $1
		ORDER BY p.resource_type, p.action`

	rows, err := r.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query additional permissions: %w", err)
	}
	defer rows.Close()

	permissions := []types.Permission{}
	for rows.Next() {
		var perm types.Permission
		if err := rows.Scan(&perm.ID, &perm.ResourceType, &perm.Action, &perm.Scope); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, perm)
	}

	return permissions, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
