package handlers

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/repositories"
	"github.com/asakaida/rowguard/internal/services"
	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/evaluation"
	"github.com/asakaida/rowguard/internal/services/macro"
	"github.com/asakaida/rowguard/internal/services/parser"
)

// === Shared Helper Functions for all handlers ===

// statusCode maps service errors to gRPC codes
func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, repositories.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, macro.ErrArgumentCount):
		return codes.FailedPrecondition
	case errors.Is(err, authorization.ErrInvalidRequest),
		errors.Is(err, services.ErrInvalidRule),
		errors.Is(err, parser.ErrSyntax),
		errors.Is(err, macro.ErrInvalidMacro),
		errors.Is(err, macro.ErrRecursion),
		errors.Is(err, evaluation.ErrUnknownFunction):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func toStatus(err error) error {
	code := statusCode(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func mapField(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func stringList(m map[string]any, key string) ([]string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a list of strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

// userFromMap builds the principal of a Check request; nil for anonymous
func userFromMap(m map[string]any) (*entities.User, error) {
	if m == nil {
		return nil, nil
	}
	groups, err := stringList(m, "groups")
	if err != nil {
		return nil, err
	}
	return &entities.User{
		ID:         stringField(m, "id"),
		Email:      stringField(m, "email"),
		Role:       stringField(m, "role"),
		RoleID:     stringField(m, "role_id"),
		Groups:     groups,
		Verified:   boolField(m, "verified"),
		Superadmin: boolField(m, "superadmin"),
	}, nil
}

// anyList converts a string slice for structpb; nil stays nil
func anyList(items []string) any {
	if items == nil {
		return nil
	}
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

func macroToMap(m *entities.Macro) map[string]any {
	return map[string]any{
		"id":          m.ID,
		"name":        m.Name,
		"sql_query":   m.SQLQuery,
		"parameters":  anyList(append([]string{}, m.Parameters...)),
		"description": m.Description,
	}
}
