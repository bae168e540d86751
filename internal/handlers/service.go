package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "rowguard.v1.RuleService"

// RuleServiceServer is the server API for the rule service. Requests and
// responses are google.protobuf.Struct messages.
type RuleServiceServer interface {
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExpandRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DefineMacro(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMacro(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InvalidateCache(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CacheStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(RuleServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodHandler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RuleServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RuleServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RuleServiceDesc describes the rule service for grpc.Server.RegisterService
var RuleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RuleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodHandler("Check", RuleServiceServer.Check),
		methodHandler("ValidateRule", RuleServiceServer.ValidateRule),
		methodHandler("ExpandRule", RuleServiceServer.ExpandRule),
		methodHandler("DefineMacro", RuleServiceServer.DefineMacro),
		methodHandler("DeleteMacro", RuleServiceServer.DeleteMacro),
		methodHandler("InvalidateCache", RuleServiceServer.InvalidateCache),
		methodHandler("CacheStats", RuleServiceServer.CacheStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rowguard/v1/rule_service.proto",
}

// RegisterRuleServiceServer registers srv with s
func RegisterRuleServiceServer(s grpc.ServiceRegistrar, srv RuleServiceServer) {
	s.RegisterService(&RuleServiceDesc, srv)
}

// RuleServiceClient calls the rule service
type RuleServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRuleServiceClient creates a client on cc
func NewRuleServiceClient(cc grpc.ClientConnInterface) *RuleServiceClient {
	return &RuleServiceClient{cc: cc}
}

func (c *RuleServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Check resolves an authorization request
func (c *RuleServiceClient) Check(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Check", in, opts...)
}

// ValidateRule checks a rule
func (c *RuleServiceClient) ValidateRule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ValidateRule", in, opts...)
}

// ExpandRule expands the macros of a rule
func (c *RuleServiceClient) ExpandRule(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ExpandRule", in, opts...)
}

// DefineMacro stores a macro
func (c *RuleServiceClient) DefineMacro(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "DefineMacro", in, opts...)
}

// DeleteMacro removes a macro
func (c *RuleServiceClient) DeleteMacro(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "DeleteMacro", in, opts...)
}

// InvalidateCache drops cached policies
func (c *RuleServiceClient) InvalidateCache(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "InvalidateCache", in, opts...)
}

// CacheStats reports policy cache statistics
func (c *RuleServiceClient) CacheStats(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "CacheStats", in, opts...)
}
