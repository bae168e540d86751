package handlers

import (
	"context"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/services/authorization"
)

// Mock Resolver
type mockResolver struct {
	resolveFunc func(ctx context.Context, req *authorization.Request) (*authorization.Decision, error)
	lastRequest *authorization.Request
}

func (m *mockResolver) Resolve(ctx context.Context, req *authorization.Request) (*authorization.Decision, error) {
	m.lastRequest = req
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, req)
	}
	return &authorization.Decision{Allowed: true, Reason: authorization.ReasonPublic}, nil
}

// Mock RuleService
type mockRuleService struct {
	validateRuleFunc func(ctx context.Context, op entities.Operation, source string) error
	expandRuleFunc   func(ctx context.Context, source string) (string, error)
}

func (m *mockRuleService) ValidateRule(ctx context.Context, op entities.Operation, source string) error {
	if m.validateRuleFunc != nil {
		return m.validateRuleFunc(ctx, op, source)
	}
	return nil
}

func (m *mockRuleService) ExpandRule(ctx context.Context, source string) (string, error) {
	if m.expandRuleFunc != nil {
		return m.expandRuleFunc(ctx, source)
	}
	return source, nil
}

func (m *mockRuleService) GetCollectionRule(ctx context.Context, collection string) (*entities.CollectionRule, error) {
	return nil, nil
}

func (m *mockRuleService) ListCollectionRules(ctx context.Context) ([]*entities.CollectionRule, error) {
	return nil, nil
}

func (m *mockRuleService) SaveCollectionRule(ctx context.Context, rule *entities.CollectionRule) error {
	return nil
}

func (m *mockRuleService) DeleteCollectionRule(ctx context.Context, collection string) error {
	return nil
}

func (m *mockRuleService) SavePermission(ctx context.Context, permission *entities.Permission) error {
	return nil
}

func (m *mockRuleService) DeletePermission(ctx context.Context, roleID string, collection string) error {
	return nil
}

// Mock MacroService
type mockMacroService struct {
	defineFunc func(ctx context.Context, m *entities.Macro) (*entities.Macro, error)
	deleteFunc func(ctx context.Context, name string) error
}

func (m *mockMacroService) Define(ctx context.Context, macro *entities.Macro) (*entities.Macro, error) {
	if m.defineFunc != nil {
		return m.defineFunc(ctx, macro)
	}
	macro.ID = "macro-id"
	return macro, nil
}

func (m *mockMacroService) Get(ctx context.Context, name string) (*entities.Macro, error) {
	return nil, nil
}

func (m *mockMacroService) List(ctx context.Context) ([]*entities.Macro, error) {
	return nil, nil
}

func (m *mockMacroService) Delete(ctx context.Context, name string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, name)
	}
	return nil
}
