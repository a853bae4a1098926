package remote

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"agora.city/internal/auth"
	"agora.city/internal/authz"
)

// ServiceName is the fully qualified gRPC service of the Authorization Service.
const ServiceName = "agora.authz.v1.Authorization"

const (
	checkPermissionMethod = "/" + ServiceName + "/CheckPermission"
	checkFieldMethod      = "/" + ServiceName + "/CheckFieldAccess"

	mdUserID    = "x-agora-user-id"
	mdUserEmail = "x-agora-user-email"
)

// GRPCAuthorizer calls the Authorization service over gRPC using Struct payloads.
type GRPCAuthorizer struct {
	conn *grpc.ClientConn
}

// DialGRPC creates a client for target. Without options the transport is insecure.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCAuthorizer, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCAuthorizer{conn: conn}, nil
}

// Close closes the underlying connection.
func (a *GRPCAuthorizer) Close() error {
	if a == nil || a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// CheckPermission implements authz.Authorizer.
func (a *GRPCAuthorizer) CheckPermission(ctx context.Context, p authz.Principal, req authz.PermissionRequest) (authz.PermissionResult, error) {
	in, err := structpb.NewStruct(map[string]any{
		"permission_code": req.Permission,
		"resource_type":   req.ResourceType,
		"resource_id":     req.ResourceID,
		"resource_action": req.Action,
	})
	if err != nil {
		return authz.PermissionResult{}, err
	}
	out := new(structpb.Struct)
	if err := a.conn.Invoke(outgoingWithIdentity(ctx, p), checkPermissionMethod, in, out); err != nil {
		return authz.PermissionResult{}, mapGRPCError(err)
	}
	allowed, ok := boolField(out, "allowed")
	if !ok {
		return authz.PermissionResult{}, fmt.Errorf("%w: missing allowed", ErrBadResponse)
	}
	return authz.PermissionResult{
		Allowed:     allowed,
		Reason:      out.GetFields()["reason"].GetStringValue(),
		Permissions: stringList(out, "user_permissions"),
	}, nil
}

// CheckFieldAccess implements authz.Authorizer.
func (a *GRPCAuthorizer) CheckFieldAccess(ctx context.Context, p authz.Principal, req authz.FieldAccessRequest) (authz.FieldAccessResult, error) {
	in, err := structpb.NewStruct(map[string]any{
		"entity_type": req.EntityType,
		"field_name":  req.Field,
		"operation":   string(req.Operation),
	})
	if err != nil {
		return authz.FieldAccessResult{}, err
	}
	out := new(structpb.Struct)
	if err := a.conn.Invoke(outgoingWithIdentity(ctx, p), checkFieldMethod, in, out); err != nil {
		return authz.FieldAccessResult{}, mapGRPCError(err)
	}
	allowed, ok := boolField(out, "allowed")
	if !ok {
		return authz.FieldAccessResult{}, fmt.Errorf("%w: missing allowed", ErrBadResponse)
	}
	sensitive, _ := boolField(out, "sensitive")
	return authz.FieldAccessResult{
		Allowed:   allowed,
		Reason:    out.GetFields()["reason"].GetStringValue(),
		Sensitive: sensitive,
	}, nil
}

// Helpers -----------------------------------------------------------------

func outgoingWithIdentity(ctx context.Context, p authz.Principal) context.Context {
	pairs := []string{mdUserID, p.ID}
	if p.Email != "" {
		pairs = append(pairs, mdUserEmail, p.Email)
	}
	if token, ok := auth.TokenFromContext(ctx); ok {
		pairs = append(pairs, "authorization", "Bearer "+token)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func boolField(s *structpb.Struct, name string) (bool, bool) {
	v, ok := s.GetFields()[name]
	if !ok {
		return false, false
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return b.BoolValue, true
}

func stringList(s *structpb.Struct, name string) []string {
	values := s.GetFields()[name].GetListValue().GetValues()
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if str := v.GetStringValue(); str != "" {
			out = append(out, str)
		}
	}
	return out
}
