package repositories

import (
	"context"

	"github.com/asakaida/rowguard/internal/entities"
)

// CollectionRuleRepository defines the interface for collection rule data access
type CollectionRuleRepository interface {
	// Get returns the rules of a collection, or ErrNotFound
	Get(ctx context.Context, collection string) (*entities.CollectionRule, error)

	// Upsert creates or replaces the rules of a collection
	Upsert(ctx context.Context, rule *entities.CollectionRule) error

	// Delete removes the rules of a collection
	Delete(ctx context.Context, collection string) error

	// List returns the rules of every collection ordered by name
	List(ctx context.Context) ([]*entities.CollectionRule, error)
}
