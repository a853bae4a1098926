package authz

import (
	"context"
	"sync"
	"sync/atomic"
)

type fakeAuthorizer struct {
	permFn  func(context.Context, Principal, PermissionRequest) (PermissionResult, error)
	fieldFn func(context.Context, Principal, FieldAccessRequest) (FieldAccessResult, error)

	permCalls  atomic.Int32
	fieldCalls atomic.Int32

	mu       sync.Mutex
	lastPerm PermissionRequest
}

func (f *fakeAuthorizer) CheckPermission(ctx context.Context, p Principal, req PermissionRequest) (PermissionResult, error) {
	f.permCalls.Add(1)
	f.mu.Lock()
	f.lastPerm = req
	f.mu.Unlock()
	if f.permFn != nil {
		return f.permFn(ctx, p, req)
	}
	return PermissionResult{}, nil
}

func (f *fakeAuthorizer) CheckFieldAccess(ctx context.Context, p Principal, req FieldAccessRequest) (FieldAccessResult, error) {
	f.fieldCalls.Add(1)
	if f.fieldFn != nil {
		return f.fieldFn(ctx, p, req)
	}
	return FieldAccessResult{}, nil
}

// grantSet answers permission checks from a fixed set of codes.
func grantSet(codes ...string) func(context.Context, Principal, PermissionRequest) (PermissionResult, error) {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return func(_ context.Context, _ Principal, req PermissionRequest) (PermissionResult, error) {
		if _, ok := set[req.Permission]; ok {
			return PermissionResult{Allowed: true, Reason: "granted", Permissions: codes}, nil
		}
		return PermissionResult{Allowed: false, Reason: "Permission denied", Permissions: codes}, nil
	}
}

func newTestClient(backend Authorizer, opts ...Option) *Client {
	c, err := NewClient(backend, opts...)
	if err != nil {
		panic(err)
	}
	return c
}
