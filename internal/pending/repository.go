package pending

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/caregrid/authz/pkg/database"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

const suggestionColumns = `s.id, s.principal_id, s.confidence, s.request_type,
	s.change_type, s.status, s.requested_at, s.reviewed_by, s.reviewed_at,
	s.review_notes, p.id, p.resource_type, p.action, p.scope`

// Repository implements suggestion persistence on PostgreSQL. Review
// transitions run in a transaction with the suggestion row locked, so
// concurrent reviewers serialize and the loser sees a terminal status.
type Repository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewRepository creates a new suggestion repository.
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{
		db:     db.DB,
		logger: log,
	}
}

// ResolvePermission finds the first catalog entry for a resource type and
// action pair.
func (r *Repository) ResolvePermission(ctx context.Context, resourceType, action string) (*types.Permission, error) {
	query := `
		SELECT id, resource_type, action, scope
		FROM permissions
		WHERE resource_type = $1 AND action = $2
		ORDER BY id
		LIMIT 1`

	var perm types.Permission
	err := r.db.QueryRowContext(ctx, query, resourceType, action).Scan(
		&perm.ID, &perm.ResourceType, &perm.Action, &perm.Scope,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodePermissionNotFound, "Permission not found")
		}
		return nil, fmt.Errorf("failed to resolve permission: %w", err)
	}

	return &perm, nil
}

// EnsurePermissions inserts catalog entries that do not exist yet. Used
// at startup to seed the permission catalog from the role table.
func (r *Repository) EnsurePermissions(ctx context.Context, perms []types.Permission) error {
	query := `
		INSERT INTO permissions (resource_type, action, scope)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_type, action, scope) DO NOTHING`

	for _, perm := range perms {
		scope := perm.Scope
		if scope == "" {
			scope = types.ScopeAny
		}
		if _, err := r.db.ExecContext(ctx, query, perm.ResourceType, perm.Action, scope); err != nil {
			return fmt.Errorf("failed to seed permission %s: %w", perm.Key(), err)
		}
	}

	return nil
}

// SeedRolePermissions mirrors the static role table into role_permissions
// for reporting queries. The runtime RBAC gate reads the in-memory table.
func (r *Repository) SeedRolePermissions(ctx context.Context, rolePerms map[string]map[string][]string) error {
	query := `
		INSERT INTO role_permissions (role, permission_id)
		SELECT $1, id FROM permissions
		WHERE resource_type = $2 AND action = $3 AND scope = $4
		ON CONFLICT DO NOTHING`

	for role, resources := range rolePerms {
		for resourceType, actions := range resources {
			for _, action := range actions {
				if _, err := r.db.ExecContext(ctx, query, role, resourceType, action, types.ScopeAny); err != nil {
					return fmt.Errorf("failed to seed role permission %s/%s/%s: %w", role, resourceType, action, err)
				}
			}
		}
	}

	return nil
}

// CreatePending inserts a Pending suggestion. Returns false without error
// when an equivalent Pending row already exists; the partial unique index
// is the serialization point for concurrent ingestion.
func (r *Repository) CreatePending(ctx context.Context, s *types.PendingSuggestion) (bool, error) {
	query := `
		INSERT INTO pending_permission_suggestions
			(principal_id, permission_id, confidence, request_type, change_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, requested_at`

	err := r.db.QueryRowContext(ctx, query,
		s.PrincipalID,
		s.Permission.ID,
		s.Confidence,
		s.RequestType,
		s.ChangeType,
		types.StatusPending,
	).Scan(&s.ID, &s.RequestedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("failed to create pending suggestion: %w", err)
	}

	s.Status = types.StatusPending
	return true, nil
}

// HasPending reports whether a Pending suggestion already exists for the
// (principal, permission, changeType) triple.
func (r *Repository) HasPending(ctx context.Context, principalID string, permissionID int64, changeType types.ChangeType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM pending_permission_suggestions
			WHERE principal_id = $1 AND permission_id = $2
				AND change_type = $3 AND status = $4
		)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, principalID, permissionID, changeType, types.StatusPending).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pending suggestion: %w", err)
	}
	return exists, nil
}

// GetByID returns one suggestion with its permission.
func (r *Repository) GetByID(ctx context.Context, id int64) (*types.PendingSuggestion, error) {
	query := `
		SELECT ` + suggestionColumns + `
		FROM pending_permission_suggestions s
		JOIN permissions p ON p.id = s.permission_id
		WHERE s.id = $1`

	suggestion, err := scanSuggestion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeSuggestionNotFound, "Suggestion not found")
		}
		return nil, err
	}

	return suggestion, nil
}

// ListByPrincipal returns a principal's suggestions, optionally filtered
// by status, newest first.
func (r *Repository) ListByPrincipal(ctx context.Context, principalID string, status types.SuggestionStatus) ([]*types.PendingSuggestion, error) {
	query := `
		SELECT ` + suggestionColumns + `
		FROM pending_permission_suggestions s
		JOIN permissions p ON p.id = s.permission_id
		WHERE s.principal_id = $1`
	args := []interface{}{principalID}

	if status != "" {
		query += ` AND s.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY s.requested_at DESC`

	return r.list(ctx, query, args...)
}

// ListByRequestType returns suggestions filtered by origin and status;
// empty values mean no constraint. Newest first.
func (r *Repository) ListByRequestType(ctx context.Context, requestType types.RequestType, status types.SuggestionStatus) ([]*types.PendingSuggestion, error) {
	query := `
		SELECT ` + suggestionColumns + `
		FROM pending_permission_suggestions s
		JOIN permissions p ON p.id = s.permission_id
		WHERE 1=1`
	args := []interface{}{}

	if requestType != "" {
		args = append(args, requestType)
		query += fmt.Sprintf(` AND s.request_type = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND s.status = $%d`, len(args))
	}
	query += ` ORDER BY s.requested_at DESC`

	return r.list(ctx, query, args...)
}

// PendingIDsForPrincipal returns the ids of a principal's Pending
// suggestions in creation order.
func (r *Repository) PendingIDsForPrincipal(ctx context.Context, principalID string) ([]int64, error) {
	query := `
		SELECT id FROM pending_permission_suggestions
		WHERE principal_id = $1 AND status = $2
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, principalID, types.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending suggestion ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Stats counts suggestions by lifecycle state.
func (r *Repository) Stats(ctx context.Context) (*types.SuggestionStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'PENDING'),
			COUNT(*) FILTER (WHERE status = 'APPROVED'),
			COUNT(*) FILTER (WHERE status = 'REJECTED'),
			COUNT(*)
		FROM pending_permission_suggestions`

	var stats types.SuggestionStats
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.Pending, &stats.Approved, &stats.Rejected, &stats.Total,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count suggestions: %w", err)
	}

	return &stats, nil
}

// Approve transitions a Pending suggestion to Approved and applies the
// permission mutation in the same transaction. Partial application is an
// invariant violation, so both writes commit or neither does.
func (r *Repository) Approve(ctx context.Context, id int64, reviewer, notes string) (*types.PendingSuggestion, error) {
	return r.review(ctx, id, reviewer, notes, types.StatusApproved, true)
}

// Reject transitions a Pending suggestion to Rejected. The principal's
// permission set is untouched.
func (r *Repository) Reject(ctx context.Context, id int64, reviewer, notes string) (*types.PendingSuggestion, error) {
	return r.review(ctx, id, reviewer, notes, types.StatusRejected, false)
}

func (r *Repository) review(ctx context.Context, id int64, reviewer, notes string, target types.SuggestionStatus, applyMutation bool) (*types.PendingSuggestion, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin review transaction: %w", err)
	}
	defer tx.Rollback()

	// Row lock serializes concurrent reviewers; the loser blocks here and
	// then observes the terminal status.
	lockQuery := `
		SELECT ` + suggestionColumns + `
		FROM pending_permission_suggestions s
		JOIN permissions p ON p.id = s.permission_id
		WHERE s.id = $1
		FOR UPDATE OF s`

	suggestion, err := scanSuggestion(tx.QueryRowContext(ctx, lockQuery, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError(types.ErrCodeSuggestionNotFound, "Suggestion not found")
		}
		return nil, err
	}

	if suggestion.Status != types.StatusPending {
		return nil, types.NewInvalidStateError(types.ErrCodeAlreadyProcessed,
			fmt.Sprintf("Suggestion %d is already %s", id, suggestion.Status))
	}

	if applyMutation {
		if err := applyPermissionChange(ctx, tx, suggestion); err != nil {
			return nil, err
		}
	}

	updateQuery := `
		UPDATE pending_permission_suggestions
		SET status = $1, reviewed_by = $2, reviewed_at = NOW(), review_notes = $3
		WHERE id = $4
		RETURNING reviewed_at`

	var reviewedAt time.Time
	if err := tx.QueryRowContext(ctx, updateQuery, target, reviewer, notes, id).Scan(&reviewedAt); err != nil {
		return nil, fmt.Errorf("failed to update suggestion status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit review transaction: %w", err)
	}

	suggestion.Status = target
	suggestion.ReviewedBy = reviewer
	suggestion.ReviewedAt = &reviewedAt
	suggestion.ReviewNotes = notes

	return suggestion, nil
}

// applyPermissionChange mutates the principal's ad-hoc permission set
// according to the suggestion's change type.
func applyPermissionChange(ctx context.Context, tx *sql.Tx, s *types.PendingSuggestion) error {
	switch s.ChangeType {
	case types.ChangeAdd:
		query := `
			INSERT INTO principal_additional_permissions (principal_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`
		if _, err := tx.ExecContext(ctx, query, s.PrincipalID, s.Permission.ID); err != nil {
			return fmt.Errorf("failed to grant permission: %w", err)
		}
	case types.ChangeRemove:
		query := `
			DELETE FROM principal_additional_permissions
			WHERE principal_id = $1 AND permission_id = $2`
		if _, err := tx.ExecContext(ctx, query, s.PrincipalID, s.Permission.ID); err != nil {
			return fmt.Errorf("failed to revoke permission: %w", err)
		}
	default:
		return types.NewValidationError(types.ErrCodeInvalidInput,
			fmt.Sprintf("Unknown change type %q", s.ChangeType))
	}
	return nil
}

func (r *Repository) list(ctx context.Context, query string, args ...interface{}) ([]*types.PendingSuggestion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query suggestions: %w", err)
	}
	defer rows.Close()

	suggestions := []*types.PendingSuggestion{}
	for rows.Next() {
		suggestion, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, suggestion)
	}

	return suggestions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSuggestion(row rowScanner) (*types.PendingSuggestion, error) {
	var s types.PendingSuggestion
	var reviewedBy, reviewNotes sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&s.ID,
		&s.PrincipalID,
		&s.Confidence,
		&s.RequestType,
		&s.ChangeType,
		&s.Status,
		&s.RequestedAt,
		&reviewedBy,
		&reviewedAt,
		&reviewNotes,
		&s.Permission.ID,
		&s.Permission.ResourceType,
		&s.Permission.Action,
		&s.Permission.Scope,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan suggestion: %w", err)
	}

	s.ReviewedBy = reviewedBy.String
	s.ReviewNotes = reviewNotes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		s.ReviewedAt = &t
	}

	return &s, nil
}
