package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/google/uuid"
)

// PostgresPermissionRepository implements PermissionRepository using PostgreSQL
type PostgresPermissionRepository struct {
	db *sql.DB
}

// NewPostgresPermissionRepository creates a new PostgreSQL permission repository
func NewPostgresPermissionRepository(db *sql.DB) repositories.PermissionRepository {
	return &PostgresPermissionRepository{db: db}
}

// ListForRole returns the role's permissions for collection, then for "*"
func (r *PostgresPermissionRepository) ListForRole(ctx context.Context, roleID string, collection string) ([]*entities.Permission, error) {
	query := `
		SELECT id, role_id, collection, rules, created_at, updated_at
		FROM permissions
		WHERE role_id = $1 AND collection IN ($2, '*')
		ORDER BY (collection = '*') ASC
	`
	rows, err := r.db.QueryContext(ctx, query, roleID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var permissions []*entities.Permission
	for rows.Next() {
		var (
			p         entities.Permission
			rulesJSON []byte
		)
		if err := rows.Scan(&p.ID, &p.RoleID, &p.Collection, &rulesJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permission rules: %w", err)
		}
		permissions = append(permissions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return permissions, nil
}

// Upsert creates or replaces the permission for (role, collection)
func (r *PostgresPermissionRepository) Upsert(ctx context.Context, p *entities.Permission) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid permission: %w", err)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	rulesJSON, err := json.Marshal(p.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal permission rules: %w", err)
	}

	query := `
		INSERT INTO permissions (id, role_id, collection, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (role_id, collection)
		DO UPDATE SET rules = EXCLUDED.rules, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	err = r.db.QueryRowContext(ctx, query, p.ID, p.RoleID, p.Collection, string(rulesJSON), now, now).
		Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}

	p.UpdatedAt = now
	return nil
}

// Delete removes the permission for (role, collection)
func (r *PostgresPermissionRepository) Delete(ctx context.Context, roleID string, collection string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM permissions WHERE role_id = $1 AND collection = $2`, roleID, collection)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("permission %s on %q: %w", roleID, collection, repositories.ErrNotFound)
	}
	return nil
}
