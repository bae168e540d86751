package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresMacroRepository implements MacroRepository using PostgreSQL
type PostgresMacroRepository struct {
	db *sql.DB
}

// NewPostgresMacroRepository creates a new PostgreSQL macro repository
func NewPostgresMacroRepository(db *sql.DB) repositories.MacroRepository {
	return &PostgresMacroRepository{db: db}
}

const macroColumns = `id, name, sql_query, parameters, description, created_at, updated_at`

func scanMacro(row rowScanner) (*entities.Macro, error) {
	var (
		m      entities.Macro
		params pq.StringArray
	)
	if err := row.Scan(&m.ID, &m.Name, &m.SQLQuery, &params, &m.Description, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Parameters = []string(params)
	return &m, nil
}

// GetByName returns the macro with the given name
func (r *PostgresMacroRepository) GetByName(ctx context.Context, name string) (*entities.Macro, error) {
	query := `SELECT ` + macroColumns + ` FROM macros WHERE name = $1`

	m, err := scanMacro(r.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("macro %q: %w", name, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get macro: %w", err)
	}
	return m, nil
}

// Upsert creates or replaces a macro by name
func (r *PostgresMacroRepository) Upsert(ctx context.Context, m *entities.Macro) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	query := `
		INSERT INTO macros (` + macroColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name)
		DO UPDATE SET
			sql_query = EXCLUDED.sql_query,
			parameters = EXCLUDED.parameters,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	now := time.Now()
	params := m.Parameters
	if params == nil {
		params = []string{}
	}
	err := r.db.QueryRowContext(ctx, query,
		m.ID, m.Name, m.SQLQuery, pq.Array(params), m.Description, now, now,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert macro: %w", err)
	}

	m.UpdatedAt = now
	return nil
}

// Delete removes a macro by name
func (r *PostgresMacroRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM macros WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete macro: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("macro %q: %w", name, repositories.ErrNotFound)
	}
	return nil
}

// List returns every macro ordered by name
func (r *PostgresMacroRepository) List(ctx context.Context) ([]*entities.Macro, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+macroColumns+` FROM macros ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list macros: %w", err)
	}
	defer rows.Close()

	var macros []*entities.Macro
	for rows.Next() {
		m, err := scanMacro(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan macro: %w", err)
		}
		macros = append(macros, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate macros: %w", err)
	}
	return macros, nil
}
