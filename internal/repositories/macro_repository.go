package repositories

import (
	"context"

	"github.com/asakaida/rowguard/internal/entities"
)

// MacroRepository defines the interface for stored macro data access
type MacroRepository interface {
	// GetByName returns the macro, or ErrNotFound
	GetByName(ctx context.Context, name string) (*entities.Macro, error)

	// Upsert creates or replaces a macro by name
	Upsert(ctx context.Context, macro *entities.Macro) error

	// Delete removes a macro by name; ErrNotFound if absent
	Delete(ctx context.Context, name string) error

	// List returns every macro ordered by name
	List(ctx context.Context) ([]*entities.Macro, error)
}
