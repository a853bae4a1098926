package remote

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"agora.city/internal/authz"
)

// AuthorizationServer is the server side of the agora.authz.v1.Authorization service.
type AuthorizationServer interface {
	CheckPermission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckFieldAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAuthorizationServer exposes backend over gRPC.
func RegisterAuthorizationServer(s grpc.ServiceRegistrar, backend authz.Authorizer) {
	s.RegisterService(&authorizationServiceDesc, &authorizationServer{backend: backend})
}

var authorizationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorizationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckPermission", Handler: unaryHandler(checkPermissionMethod, AuthorizationServer.CheckPermission)},
		{MethodName: "CheckFieldAccess", Handler: unaryHandler(checkFieldMethod, AuthorizationServer.CheckFieldAccess)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "agora/authz/v1/authorization.proto",
}

type methodFunc func(AuthorizationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, fn methodFunc) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(AuthorizationServer)
		if interceptor == nil {
			return fn(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(server, ctx, req.(*structpb.Struct))
		})
	}
}

type authorizationServer struct {
	backend authz.Authorizer
}

func (s *authorizationServer) CheckPermission(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := incomingPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	fields := in.GetFields()
	req := authz.PermissionRequest{
		Permission:   fields["permission_code"].GetStringValue(),
		ResourceType: fields["resource_type"].GetStringValue(),
		ResourceID:   fields["resource_id"].GetStringValue(),
		Action:       fields["resource_action"].GetStringValue(),
	}
	if req.Permission == "" {
		return nil, status.Error(codes.InvalidArgument, "permission_code is required")
	}
	res, err := s.backend.CheckPermission(ctx, p, req)
	if err != nil {
		return nil, toStatus(err)
	}
	perms := make([]any, 0, len(res.Permissions))
	for _, code := range res.Permissions {
		perms = append(perms, code)
	}
	return structpb.NewStruct(map[string]any{
		"allowed":          res.Allowed,
		"reason":           res.Reason,
		"user_permissions": perms,
	})
}

func (s *authorizationServer) CheckFieldAccess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := incomingPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	fields := in.GetFields()
	req := authz.FieldAccessRequest{
		EntityType: fields["entity_type"].GetStringValue(),
		Field:      fields["field_name"].GetStringValue(),
		Operation:  authz.Operation(fields["operation"].GetStringValue()),
	}
	if req.EntityType == "" || req.Field == "" || !req.Operation.Valid() {
		return nil, status.Error(codes.InvalidArgument, "entity_type, field_name and a read/write operation are required")
	}
	res, err := s.backend.CheckFieldAccess(ctx, p, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"allowed":   res.Allowed,
		"reason":    res.Reason,
		"sensitive": res.Sensitive,
	})
}

func incomingPrincipal(ctx context.Context) (authz.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	p := authz.Principal{ID: first(md.Get(mdUserID)), Email: first(md.Get(mdUserEmail))}
	if p.ID == "" {
		return authz.Principal{}, status.Error(codes.Unauthenticated, "missing "+mdUserID)
	}
	return p, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, authz.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
