package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the database schema for the authorization core.
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.Info("Creating database schema...")

	if err := db.createExtensions(ctx); err != nil {
		return fmt.Errorf("failed to create extensions: %w", err)
	}

	tables := []string{
		createPrincipalsTable,
		createPermissionsTable,
		createRolePermissionsTable,
		createAdditionalPermissionsTable,
		createPendingSuggestionsTable,
		createAuditRecordsTable,
	}

	for _, table := range tables {
		if _, err := db.ExecContext(ctx, table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		createPrincipalsIndexes,
		createPermissionsIndexes,
		createPendingSuggestionsIndexes,
		createAuditRecordsIndexes,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	db.logger.Info("Database schema created successfully")
	return nil
}

// createExtensions creates required PostgreSQL extensions.
func (db *DB) createExtensions(ctx context.Context) error {
	extensions := []string{
		`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	}

	for _, ext := range extensions {
		if _, err := db.ExecContext(ctx, ext); err != nil {
			return fmt.Errorf("failed to create extension: %w", err)
		}
	}

	return nil
}

const createPrincipalsTable = `
CREATE TABLE IF NOT EXISTS principals (
	id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	role TEXT NOT NULL,
	branch TEXT NOT NULL,
	department TEXT NOT NULL,
	position TEXT,
	has_license BOOLEAN NOT NULL DEFAULT FALSE,
	seniority TEXT NOT NULL DEFAULT 'Junior',
	employment_type TEXT NOT NULL DEFAULT 'FullTime',
	assigned_patients TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const createPermissionsTable = `
CREATE TABLE IF NOT EXISTS permissions (
	id BIGSERIAL PRIMARY KEY,
	resource_type TEXT NOT NULL,
	action TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT 'any',
	description TEXT,
	permission_key TEXT GENERATED ALWAYS AS (resource_type || ':' || action || ':' || scope) STORED,
	UNIQUE (resource_type, action, scope)
);`

const createRolePermissionsTable = `
CREATE TABLE IF NOT EXISTS role_permissions (
	role TEXT NOT NULL,
	permission_id BIGINT NOT NULL REFERENCES permissions(id),
	PRIMARY KEY (role, permission_id)
);`

const createAdditionalPermissionsTable = `
CREATE TABLE IF NOT EXISTS principal_additional_permissions (
	principal_id TEXT NOT NULL REFERENCES principals(id),
	permission_id BIGINT NOT NULL REFERENCES permissions(id),
	granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (principal_id, permission_id)
);`

const createPendingSuggestionsTable = `
CREATE TABLE IF NOT EXISTS pending_permission_suggestions (
	id BIGSERIAL PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	permission_id BIGINT NOT NULL REFERENCES permissions(id),
	confidence NUMERIC(3,2) NOT NULL,
	request_type TEXT NOT NULL DEFAULT 'NEW_PRINCIPAL',
	change_type TEXT NOT NULL DEFAULT 'ADD',
	status TEXT NOT NULL DEFAULT 'PENDING',
	requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	reviewed_by TEXT,
	reviewed_at TIMESTAMPTZ,
	review_notes TEXT
);`

const createAuditRecordsTable = `
CREATE TABLE IF NOT EXISTS audit_records (
	id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
	principal_id TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	action TEXT NOT NULL,
	allowed BOOLEAN NOT NULL,
	policy_id TEXT,
	deny_reasons TEXT,
	risk_score INTEGER,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	ip_address TEXT,
	user_agent TEXT
);`

const createPrincipalsIndexes = `
CREATE INDEX IF NOT EXISTS idx_principals_role ON principals(role);
CREATE INDEX IF NOT EXISTS idx_principals_branch ON principals(branch);
CREATE INDEX IF NOT EXISTS idx_principals_department ON principals(department);`

const createPermissionsIndexes = `
CREATE INDEX IF NOT EXISTS idx_permissions_resource_action ON permissions(resource_type, action);`

// The partial unique index is the serialization point for concurrent
// ingestion: at most one Pending suggestion per
// (principal, permission, change_type).
const createPendingSuggestionsIndexes = `
CREATE UNIQUE INDEX IF NOT EXISTS uq_pending_suggestion
	ON pending_permission_suggestions(principal_id, permission_id, change_type)
	WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_pending_suggestions_principal
	ON pending_permission_suggestions(principal_id, status);
CREATE INDEX IF NOT EXISTS idx_pending_suggestions_status_type
	ON pending_permission_suggestions(status, request_type);`

const createAuditRecordsIndexes = `
CREATE INDEX IF NOT EXISTS idx_audit_records_principal ON audit_records(principal_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_resource_type ON audit_records(resource_type);
CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_records_risk ON audit_records(risk_score);`
