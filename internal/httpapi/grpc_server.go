package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"agora.city/internal/authz"
	"agora.city/internal/authz/remote"
	"agora.city/internal/obs"
)

// GRPCServer exposes the console's fail-closed checks and its health to other
// internal services.
type GRPCServer struct {
	*grpc.Server
	health *health.Server
	ready  ReadyProbe
}

// NewGRPCServer registers the authorization and health services.
func NewGRPCServer(client *authz.Client, ready ReadyProbe, opts ...grpc.ServerOption) *GRPCServer {
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	remote.RegisterAuthorizationServer(srv, failClosed{client: client})
	if ready == nil {
		ready = ReadyFunc(func(context.Context) error { return nil })
	}
	return &GRPCServer{Server: srv, health: hs, ready: ready}
}

// RefreshHealth publishes the readiness probe result as the serving status.
func (s *GRPCServer) RefreshHealth(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.ready.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.SetReady(false)
	} else {
		obs.SetReady(true)
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(remote.ServiceName, status)
}

// failClosed adapts the client to the Authorizer contract. Its results already
// carry the fail-closed outcome, so it never reports an error.
type failClosed struct {
	client *authz.Client
}

func (f failClosed) CheckPermission(ctx context.Context, p authz.Principal, req authz.PermissionRequest) (authz.PermissionResult, error) {
	return f.client.CheckPermission(ctx, p, req), nil
}

func (f failClosed) CheckFieldAccess(ctx context.Context, p authz.Principal, req authz.FieldAccessRequest) (authz.FieldAccessResult, error) {
	return f.client.CheckFieldAccess(ctx, p, req), nil
}
