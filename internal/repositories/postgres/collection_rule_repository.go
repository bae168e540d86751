package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
)

// PostgresCollectionRuleRepository implements CollectionRuleRepository using PostgreSQL
type PostgresCollectionRuleRepository struct {
	db *sql.DB
}

// NewPostgresCollectionRuleRepository creates a new PostgreSQL collection rule repository
func NewPostgresCollectionRuleRepository(db *sql.DB) repositories.CollectionRuleRepository {
	return &PostgresCollectionRuleRepository{db: db}
}

const collectionRuleColumns = `collection, list_rule, view_rule, create_rule, update_rule, delete_rule,
	list_fields, view_fields, create_fields, update_fields, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollectionRule(row rowScanner) (*entities.CollectionRule, error) {
	var (
		r                                          entities.CollectionRule
		listRule, viewRule, createRule, updateRule sql.NullString
		deleteRule                                 sql.NullString
	)
	err := row.Scan(
		&r.Collection, &listRule, &viewRule, &createRule, &updateRule, &deleteRule,
		&r.ListFields, &r.ViewFields, &r.CreateFields, &r.UpdateFields, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ListRule = nullableRule(listRule)
	r.ViewRule = nullableRule(viewRule)
	r.CreateRule = nullableRule(createRule)
	r.UpdateRule = nullableRule(updateRule)
	r.DeleteRule = nullableRule(deleteRule)
	return &r, nil
}

// nullableRule keeps the locked (NULL) and public ("") states distinct
func nullableRule(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func ruleParam(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// Get returns the rules of a collection
func (r *PostgresCollectionRuleRepository) Get(ctx context.Context, collection string) (*entities.CollectionRule, error) {
	query := `SELECT ` + collectionRuleColumns + ` FROM collection_rules WHERE collection = $1`

	rule, err := scanCollectionRule(r.db.QueryRowContext(ctx, query, collection))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection rule %q: %w", collection, repositories.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection rule: %w", err)
	}
	return rule, nil
}

// Upsert creates or replaces the rules of a collection
func (r *PostgresCollectionRuleRepository) Upsert(ctx context.Context, rule *entities.CollectionRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid collection rule: %w", err)
	}

	query := `
		INSERT INTO collection_rules (` + collectionRuleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (collection)
		DO UPDATE SET
			list_rule = EXCLUDED.list_rule,
			view_rule = EXCLUDED.view_rule,
			create_rule = EXCLUDED.create_rule,
			update_rule = EXCLUDED.update_rule,
			delete_rule = EXCLUDED.delete_rule,
			list_fields = EXCLUDED.list_fields,
			view_fields = EXCLUDED.view_fields,
			create_fields = EXCLUDED.create_fields,
			update_fields = EXCLUDED.update_fields,
			updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	_, err := r.db.ExecContext(ctx, query,
		rule.Collection,
		ruleParam(rule.ListRule),
		ruleParam(rule.ViewRule),
		ruleParam(rule.CreateRule),
		ruleParam(rule.UpdateRule),
		ruleParam(rule.DeleteRule),
		rule.FieldsFor(entities.OperationList),
		rule.FieldsFor(entities.OperationView),
		rule.FieldsFor(entities.OperationCreate),
		rule.FieldsFor(entities.OperationUpdate),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert collection rule: %w", err)
	}

	rule.UpdatedAt = now
	return nil
}

// Delete removes the rules of a collection
func (r *PostgresCollectionRuleRepository) Delete(ctx context.Context, collection string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM collection_rules WHERE collection = $1`, collection)
	if err != nil {
		return fmt.Errorf("failed to delete collection rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("collection rule %q: %w", collection, repositories.ErrNotFound)
	}
	return nil
}

// List returns the rules of every collection ordered by name
func (r *PostgresCollectionRuleRepository) List(ctx context.Context) ([]*entities.CollectionRule, error) {
	query := `SELECT ` + collectionRuleColumns + ` FROM collection_rules ORDER BY collection`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection rules: %w", err)
	}
	defer rows.Close()

	var rules []*entities.CollectionRule
	for rows.Next() {
		rule, err := scanCollectionRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collection rules: %w", err)
	}
	return rules, nil
}
