package authorization

import (
	"context"

	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/services/macro"
)

// CachedGroupSource loads group memberships through the permission cache
type CachedGroupSource struct {
	repo  repositories.GroupRepository
	cache *PermissionCache
}

var _ macro.GroupSource = (*CachedGroupSource)(nil)

// NewCachedGroupSource creates a group source. cache may be nil.
func NewCachedGroupSource(repo repositories.GroupRepository, cache *PermissionCache) *CachedGroupSource {
	return &CachedGroupSource{repo: repo, cache: cache}
}

// GroupsForUser returns the user's groups, from cache when possible
func (s *CachedGroupSource) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	if s.cache != nil {
		if groups, ok := s.cache.Groups(ctx, userID); ok {
			return groups, nil
		}
	}

	groups, err := s.repo.GroupsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetGroups(ctx, userID, groups)
	}
	return groups, nil
}
