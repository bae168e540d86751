package handlers

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/rowguard/internal/entities"
	"github.com/asakaida/rowguard/internal/services"
	"github.com/asakaida/rowguard/internal/services/authorization"
	"github.com/asakaida/rowguard/internal/services/macro"
)

// ResolverInterface defines the interface for resolving authorization requests
type ResolverInterface interface {
	Resolve(ctx context.Context, req *authorization.Request) (*authorization.Decision, error)
}

// RuleHandler handles rule service gRPC requests
type RuleHandler struct {
	resolver     ResolverInterface
	ruleService  services.RuleServiceInterface
	macroService services.MacroServiceInterface
	cache        *authorization.PermissionCache
	logger       *zap.Logger
}

var _ RuleServiceServer = (*RuleHandler)(nil)

// NewRuleHandler creates a new RuleHandler. cache may be nil when caching
// is disabled.
func NewRuleHandler(
	resolver ResolverInterface,
	ruleService services.RuleServiceInterface,
	macroService services.MacroServiceInterface,
	cache *authorization.PermissionCache,
	logger *zap.Logger,
) *RuleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleHandler{
		resolver:     resolver,
		ruleService:  ruleService,
		macroService: macroService,
		cache:        cache,
		logger:       logger,
	}
}

// Check handles the Check RPC.
// Request: {user, collection, operation, record, data, permissions}
func (h *RuleHandler) Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := req.AsMap()

	collection := stringField(in, "collection")
	if collection == "" {
		return nil, status.Error(codes.InvalidArgument, "collection is required")
	}
	op, err := entities.ParseOperation(stringField(in, "operation"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	user, err := userFromMap(mapField(in, "user"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid user: %v", err)
	}

	decision, err := h.resolver.Resolve(ctx, &authorization.Request{
		User:        user,
		Collection:  collection,
		Operation:   op,
		Record:      mapField(in, "record"),
		Data:        mapField(in, "data"),
		Permissions: mapField(in, "permissions"),
	})
	if err != nil {
		if statusCode(err) == codes.Internal {
			h.logger.Error("check failed", zap.String("collection", collection), zap.String("operation", op.String()), zap.Error(err))
		}
		return nil, toStatus(err)
	}

	return newStruct(map[string]any{
		"allowed": decision.Allowed,
		"filter":  decision.Filter,
		"fields":  anyList(decision.Fields),
		"reason":  decision.Reason,
		"origin":  string(decision.Origin),
		"cached":  decision.Cached,
	})
}

// ValidateRule handles the ValidateRule RPC. An invalid rule is reported in
// the response, not as an RPC error.
// Request: {operation, rule}
func (h *RuleHandler) ValidateRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := req.AsMap()

	op, err := entities.ParseOperation(stringField(in, "operation"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	err = h.ruleService.ValidateRule(ctx, op, stringField(in, "rule"))
	if err != nil && statusCode(err) != codes.InvalidArgument {
		return nil, toStatus(err)
	}

	resp := map[string]any{"valid": err == nil, "errors": []any{}}
	if err != nil {
		resp["errors"] = []any{err.Error()}
	}
	return newStruct(resp)
}

// ExpandRule handles the ExpandRule RPC.
// Request: {rule}
func (h *RuleHandler) ExpandRule(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	rule := stringField(req.AsMap(), "rule")

	expanded, err := h.ruleService.ExpandRule(ctx, rule)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"expanded": expanded})
}

// DefineMacro handles the DefineMacro RPC.
// Request: {name, sql_query, parameters, description}
func (h *RuleHandler) DefineMacro(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := req.AsMap()

	params, err := stringList(in, "parameters")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	m, err := h.macroService.Define(ctx, &entities.Macro{
		Name:        stringField(in, "name"),
		SQLQuery:    stringField(in, "sql_query"),
		Parameters:  params,
		Description: stringField(in, "description"),
	})
	if err != nil {
		var validationErr *macro.ValidationError
		if errors.As(err, &validationErr) {
			return nil, status.Error(codes.InvalidArgument, validationErr.Error())
		}
		return nil, toStatus(err)
	}

	return newStruct(macroToMap(m))
}

// DeleteMacro handles the DeleteMacro RPC.
// Request: {name}
func (h *RuleHandler) DeleteMacro(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := stringField(req.AsMap(), "name")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	if err := h.macroService.Delete(ctx, name); err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]any{"deleted": true})
}

// InvalidateCache handles the InvalidateCache RPC. With a user_id or a
// collection only matching entries are dropped; with neither, everything is.
// Request: {user_id, collection}
func (h *RuleHandler) InvalidateCache(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if h.cache == nil {
		return newStruct(map[string]any{"removed": 0})
	}

	in := req.AsMap()
	userID := stringField(in, "user_id")
	collection := stringField(in, "collection")

	removed := 0
	switch {
	case userID != "" || collection != "":
		if userID != "" {
			removed += h.cache.InvalidateUser(ctx, userID)
		}
		if collection != "" {
			removed += h.cache.InvalidateCollection(ctx, collection)
		}
	default:
		removed = h.cache.Size()
		h.cache.InvalidateAll(ctx)
	}

	h.logger.Info("cache invalidated",
		zap.String("user_id", userID),
		zap.String("collection", collection),
		zap.Int("removed", removed),
	)
	return newStruct(map[string]any{"removed": removed})
}

// CacheStats handles the CacheStats RPC
func (h *RuleHandler) CacheStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if h.cache == nil {
		return newStruct(map[string]any{"enabled": false})
	}

	m := h.cache.Metrics()
	return newStruct(map[string]any{
		"enabled":     true,
		"size":        h.cache.Size(),
		"ttl_seconds": h.cache.TTL().Seconds(),
		"hits":        m.Hits,
		"misses":      m.Misses,
		"hit_rate":    m.HitRate(),
		"evictions":   m.KeysEvicted,
		"expired":     m.KeysExpired,
	})
}
