package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/caregrid/authz/pkg/database"
	"github.com/caregrid/authz/pkg/logger"
	"github.com/caregrid/authz/pkg/types"
)

const defaultQueryLimit = 100

// Recorder persists audit records. Implementations must treat records as
// write-once.
type Recorder interface {
	Record(ctx context.Context, record *types.AuditRecord) error
}

// Repository implements audit record persistence on PostgreSQL.
type Repository struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewRepository creates a new audit repository.
func NewRepository(db *database.DB, log *logger.Logger) *Repository {
	return &Repository{
		db:     db.DB,
		logger: log,
	}
}

// Record inserts one audit record. The id is assigned here if the caller
// left it empty.
func (r *Repository) Record(ctx context.Context, record *types.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	query := `
		INSERT INTO audit_records (id, principal_id, resource_type, resource_id,
			action, allowed, policy_id, deny_reasons, risk_score, timestamp,
			ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.PrincipalID,
		record.ResourceType,
		record.ResourceID,
		record.Action,
		record.Allowed,
		record.PolicyID,
		record.DenyReasons,
		record.RiskScore,
		record.Timestamp,
		record.IPAddress,
		record.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// Query returns audit records matching the filter, newest first.
func (r *Repository) Query(ctx context.Context, filter *types.AuditFilter) ([]*types.AuditRecord, error) {
	query := `
		SELECT id, principal_id, resource_type, resource_id, action, allowed,
			policy_id, deny_reasons, risk_score, timestamp, ip_address, user_agent
		FROM audit_records`

	conditions := []string{}
	args := []interface{}{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, clause+" $"+strconv.Itoa(len(args)))
	}

	if filter.PrincipalID != "" {
		addCondition("principal_id =", filter.PrincipalID)
	}
	if filter.ResourceType != "" {
		addCondition("resource_type =", filter.ResourceType)
	}
	if filter.Allowed != nil {
		addCondition("allowed =", *filter.Allowed)
	}
	if filter.Start != nil {
		addCondition("timestamp >=", *filter.Start)
	}
	if filter.End != nil {
		addCondition("timestamp <=", *filter.End)
	}
	if filter.MinRiskScore != nil {
		addCondition("risk_score >=", *filter.MinRiskScore)
	}

	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit)
	query += " ORDER BY timestamp DESC LIMIT $" + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	records := []*types.AuditRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}

	return records, nil
}

// GetByID returns a single audit record.
func (r *Repository) GetByID(ctx context.Context, id string) (*types.AuditRecord, error) {
	query := `
		SELECT id, principal_id, resource_type, resource_id, action, allowed,
			policy_id, deny_reasons, risk_score, timestamp, ip_address, user_agent
		FROM audit_records
		WHERE id = $1`

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, types.NewNotFoundError("AUDIT_RECORD_NOT_FOUND", "Audit record not found")
		}
		return nil, err
	}

	return record, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*types.AuditRecord, error) {
	var record types.AuditRecord
	var policyID, denyReasons, ipAddress, userAgent sql.NullString
	var riskScore sql.NullInt64

	err := row.Scan(
		&record.ID,
		&record.PrincipalID,
		&record.ResourceType,
		&record.ResourceID,
		&record.Action,
		&record.Allowed,
		&policyID,
		&denyReasons,
		&riskScore,
		&record.Timestamp,
		&ipAddress,
		&userAgent,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit record: %w", err)
	}

	record.PolicyID = policyID.String
	record.DenyReasons = denyReasons.String
	record.IPAddress = ipAddress.String
	record.UserAgent = userAgent.String
	if riskScore.Valid {
		score := int(riskScore.Int64)
		record.RiskScore = &score
	}

	return &record, nil
}
