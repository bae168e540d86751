package repositories

import (
	"context"

	"github.com/asakaida/rowguard/internal/entities"
)

// PermissionRepository defines the interface for role permission data access
type PermissionRepository interface {
	// ListForRole returns the role's permissions for collection and for the
	// "*" wildcard, specific collection first
	ListForRole(ctx context.Context, roleID string, collection string) ([]*entities.Permission, error)

	// Upsert creates or replaces the permission for (role, collection)
	Upsert(ctx context.Context, permission *entities.Permission) error

	// Delete removes the permission for (role, collection)
	Delete(ctx context.Context, roleID string, collection string) error
}
