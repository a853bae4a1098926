package remote

import (
	"context"

	"agora.city/internal/authz"
)

// Offline is used when no Authorization Service is configured. Every call fails,
// so a wrapping authz.Client denies everything.
type Offline struct{}

func (Offline) CheckPermission(context.Context, authz.Principal, authz.PermissionRequest) (authz.PermissionResult, error) {
	return authz.PermissionResult{}, ErrUnavailable
}

func (Offline) CheckFieldAccess(context.Context, authz.Principal, authz.FieldAccessRequest) (authz.FieldAccessResult, error) {
	return authz.FieldAccessResult{}, ErrUnavailable
}
