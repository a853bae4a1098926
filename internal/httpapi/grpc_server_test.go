package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"agora.city/internal/authz"
	"agora.city/internal/authz/remote"
)

const bufSize = 1024 * 1024

func serveBuf(t *testing.T, srv *GRPCServer) *bufconn.Listener {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()
	t.Cleanup(func() {
		srv.GracefulStop()
		_ = listener.Close()
	})
	return listener
}

func bufDialer(listener *bufconn.Listener) []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return listener.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

func TestGRPCServerHealthFollowsReadiness(t *testing.T) {
	stub := &stubAuthorizer{allow: map[string]bool{}}
	client, _ := authz.NewClient(stub)
	var down error
	srv := NewGRPCServer(client, ReadyFunc(func(context.Context) error { return down }))
	conn, err := grpc.NewClient("passthrough:///bufnet", bufDialer(serveBuf(t, srv))...)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	defer conn.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv.RefreshHealth(ctx)
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: remote.ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}

	down = errors.New("db unreachable")
	srv.RefreshHealth(ctx)
	resp, err = healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", resp.GetStatus())
	}
}

func TestGRPCServerAnswersFailClosed(t *testing.T) {
	stub := &stubAuthorizer{allow: map[string]bool{"challenge_edit": true}}
	client, _ := authz.NewClient(stub)
	srv := NewGRPCServer(client, nil)
	remoteAuthz, err := remote.DialGRPC("passthrough:///bufnet", bufDialer(serveBuf(t, srv))...)
	if err != nil {
		t.Fatalf("DialGRPC: %v", err)
	}
	defer remoteAuthz.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := authz.Principal{ID: "ana", Email: "ana@agora.city"}

	res, err := remoteAuthz.CheckPermission(ctx, p, authz.PermissionRequest{Permission: "challenge_edit"})
	if err != nil || !res.Allowed {
		t.Fatalf("expected grant, got %+v (%v)", res, err)
	}

	stub.set(func(s *stubAuthorizer) { s.err = errors.New("upstream down") })
	res, err = remoteAuthz.CheckPermission(ctx, p, authz.PermissionRequest{Permission: "challenge_edit"})
	if err != nil {
		t.Fatalf("fail-closed answers are not errors: %v", err)
	}
	if res.Allowed || res.Reason != authz.ReasonValidationFailed {
		t.Fatalf("expected fail-closed denial, got %+v", res)
	}
}
