package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asakaida/rowguard/internal/repositories"
)

// PostgresGroupRepository implements GroupRepository using PostgreSQL
type PostgresGroupRepository struct {
	db *sql.DB
}

// NewPostgresGroupRepository creates a new PostgreSQL group repository
func NewPostgresGroupRepository(db *sql.DB) repositories.GroupRepository {
	return &PostgresGroupRepository{db: db}
}

// GroupsForUser returns the names of the groups a user belongs to
func (r *PostgresGroupRepository) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT group_name FROM group_members WHERE user_id = $1 ORDER BY group_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}
	return groups, nil
}

// AddMember adds a user to a group
func (r *PostgresGroupRepository) AddMember(ctx context.Context, group string, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO group_members (group_name, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, group, userID)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}
