package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asakaida/rowguard/internal/repositories"
)

// PostgresSession implements Session by running macro queries inside a
// read-only transaction
type PostgresSession struct {
	db *sql.DB
}

// NewPostgresSession creates a new PostgreSQL session
func NewPostgresSession(db *sql.DB) repositories.Session {
	return &PostgresSession{db: db}
}

// QueryScalar returns the first column of the first row, or nil when the
// query yields no rows
func (s *PostgresSession) QueryScalar(ctx context.Context, query string, args ...any) (any, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	var value any
	err = tx.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run macro query: %w", err)
	}

	// Drivers hand back text columns as []byte
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	return value, nil
}
