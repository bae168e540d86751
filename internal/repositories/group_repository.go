package repositories

import "context"

// GroupRepository defines the interface for group membership lookups
type GroupRepository interface {
	// GroupsForUser returns the names of the groups a user belongs to
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
}
