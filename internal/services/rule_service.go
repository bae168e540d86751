package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/macro"
	"github.com/asakaida/rowguard/internal/services/parser"
)

// ErrInvalidRule is returned when a rule does not parse or expand
var ErrInvalidRule = errors.New("invalid rule")

// RuleServiceInterface defines the interface for rule management operations
type RuleServiceInterface interface {
	ValidateRule(ctx context.Context, op entities.Operation, source string) error
	ExpandRule(ctx context.Context, source string) (string, error)
	GetCollectionRule(ctx context.Context, collection string) (*entities.CollectionRule, error)
	ListCollectionRules(ctx context.Context) ([]*entities.CollectionRule, error)
	SaveCollectionRule(ctx context.Context, rule *entities.CollectionRule) error
	DeleteCollectionRule(ctx context.Context, collection string) error
	SavePermission(ctx context.Context, permission *entities.Permission) error
	DeletePermission(ctx context.Context, roleID string, collection string) error
}

// RuleService handles collection rules and role permissions
type RuleService struct {
	ruleRepo       repositories.CollectionRuleRepository
	permissionRepo repositories.PermissionRepository
	expander       *macro.Expander
	cache          *authorization.PermissionCache
	logger         *zap.Logger
}

// NewRuleService creates a new RuleService. cache may be nil.
func NewRuleService(
	ruleRepo repositories.CollectionRuleRepository,
	permissionRepo repositories.PermissionRepository,
	expander *macro.Expander,
	cache *authorization.PermissionCache,
	logger *zap.Logger,
) *RuleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if expander == nil {
		expander = macro.NewExpander(nil)
	}
	return &RuleService{
		ruleRepo:       ruleRepo,
		permissionRepo: permissionRepo,
		expander:       expander,
		cache:          cache,
		logger:         logger,
	}
}

// ValidateRule checks that a rule can be used for op. The empty rule is
// public and always valid; a blank one is an empty expression. Filter rules
// must also expand without exceeding the macro depth, and gate rules may
// only use text macros that have a predicate.
func (s *RuleService) ValidateRule(ctx context.Context, op entities.Operation, source string) error {
	if source == "" {
		return nil
	}

	node, err := parser.ParseString(source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if !op.IsFilter() {
		if err := s.expander.CheckGateRule(node); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRule, err)
		}
		return nil
	}

	if _, err := s.expander.Expand(ctx, source, 0); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}
	return nil
}

// ExpandRule returns the filter a list rule expands to
func (s *RuleService) ExpandRule(ctx context.Context, source string) (string, error) {
	expanded, err := s.expander.Expand(ctx, source, 0)
	if err != nil {
		return "", fmt.Errorf("failed to expand rule: %w", err)
	}
	return expanded, nil
}

// GetCollectionRule returns the rules of a collection
func (s *RuleService) GetCollectionRule(ctx context.Context, collection string) (*entities.CollectionRule, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	rule, err := s.ruleRepo.Get(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection rule: %w", err)
	}
	return rule, nil
}

// ListCollectionRules returns the rules of every collection
func (s *RuleService) ListCollectionRules(ctx context.Context) ([]*entities.CollectionRule, error) {
	rules, err := s.ruleRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection rules: %w", err)
	}
	return rules, nil
}

// SaveCollectionRule validates all five rules, stores them and drops the
// collection's cached policies. Every invalid rule is reported.
func (s *RuleService) SaveCollectionRule(ctx context.Context, rule *entities.CollectionRule) error {
	if rule == nil {
		return fmt.Errorf("collection rule is required")
	}
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid collection rule: %w", err)
	}

	var result *multierror.Error
	for _, op := range entities.Operations {
		source := rule.RuleFor(op)
		if source == nil {
			continue
		}
		if err := s.ValidateRule(ctx, op, *source); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s rule: %w", op, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid rules for %q: %w", rule.Collection, err)
	}

	if err := s.ruleRepo.Upsert(ctx, rule); err != nil {
		return fmt.Errorf("failed to save collection rule: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateCollection(ctx, rule.Collection)
	}
	s.logger.Info("collection rules saved", zap.String("collection", rule.Collection))
	return nil
}

// DeleteCollectionRule removes the rules of a collection, locking it
func (s *RuleService) DeleteCollectionRule(ctx context.Context, collection string) error {
	if collection == "" {
		return fmt.Errorf("collection is required")
	}

	if err := s.ruleRepo.Delete(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection rule: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateCollection(ctx, collection)
	}
	s.logger.Info("collection rules deleted", zap.String("collection", collection))
	return nil
}

// SavePermission validates and stores a role permission. Roles are not
// tracked per user in the cache, so every cached policy is dropped.
func (s *RuleService) SavePermission(ctx context.Context, permission *entities.Permission) error {
	if permission == nil {
		return fmt.Errorf("permission is required")
	}
	if err := permission.Validate(); err != nil {
		return fmt.Errorf("invalid permission: %w", err)
	}

	var result *multierror.Error
	for _, op := range entities.Operations {
		rule, ok := permission.RuleFor(op)
		if !ok {
			continue
		}
		if err := s.ValidateRule(ctx, op, rule.Rule); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s rule: %w", op, err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid rules for role %s on %q: %w", permission.RoleID, permission.Collection, err)
	}

	if permission.ID == "" {
		permission.ID = uuid.NewString()
	}
	if err := s.permissionRepo.Upsert(ctx, permission); err != nil {
		return fmt.Errorf("failed to save permission: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	s.logger.Info("permission saved",
		zap.String("role_id", permission.RoleID),
		zap.String("collection", permission.Collection),
	)
	return nil
}

// DeletePermission removes a role permission
func (s *RuleService) DeletePermission(ctx context.Context, roleID string, collection string) error {
	if roleID == "" || collection == "" {
		return fmt.Errorf("role ID and collection are required")
	}

	if err := s.permissionRepo.Delete(ctx, roleID, collection); err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return nil
}
