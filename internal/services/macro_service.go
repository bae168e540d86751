package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/macro"
)

// MacroServiceInterface defines the interface for stored macro management
type MacroServiceInterface interface {
	Define(ctx context.Context, m *entities.Macro) (*entities.Macro, error)
	Get(ctx context.Context, name string) (*entities.Macro, error)
	List(ctx context.Context) ([]*entities.Macro, error)
	Delete(ctx context.Context, name string) error
}

// MacroService handles stored macro definitions
type MacroService struct {
	macroRepo repositories.MacroRepository
	cache     *authorization.PermissionCache
	logger    *zap.Logger
}

// NewMacroService creates a new MacroService. cache may be nil.
func NewMacroService(macroRepo repositories.MacroRepository, cache *authorization.PermissionCache, logger *zap.Logger) *MacroService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MacroService{
		macroRepo: macroRepo,
		cache:     cache,
		logger:    logger,
	}
}

// Define validates a macro and stores it, replacing any macro of the same
// name. Validation happens here only, never at evaluation time.
func (s *MacroService) Define(ctx context.Context, m *entities.Macro) (*entities.Macro, error) {
	if m == nil {
		return nil, fmt.Errorf("macro is required")
	}
	m.Name = strings.TrimSpace(m.Name)
	m.SQLQuery = strings.TrimSpace(m.SQLQuery)

	if err := macro.Validate(m); err != nil {
		return nil, err
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.macroRepo.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to store macro: %w", err)
	}

	// Any cached policy may have expanded the previous definition
	s.invalidate(ctx)
	s.logger.Info("macro defined", zap.String("macro", m.Name), zap.Int("parameters", len(m.Parameters)))
	return m, nil
}

// Get returns a macro by name
func (s *MacroService) Get(ctx context.Context, name string) (*entities.Macro, error) {
	if name == "" {
		return nil, fmt.Errorf("macro name is required")
	}

	m, err := s.macroRepo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get macro: %w", err)
	}
	return m, nil
}

// List returns every macro
func (s *MacroService) List(ctx context.Context) ([]*entities.Macro, error) {
	macros, err := s.macroRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list macros: %w", err)
	}
	return macros, nil
}

// Delete removes a macro by name
func (s *MacroService) Delete(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("macro name is required")
	}

	if err := s.macroRepo.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete macro: %w", err)
	}

	s.invalidate(ctx)
	s.logger.Info("macro deleted", zap.String("macro", name))
	return nil
}

func (s *MacroService) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
}
