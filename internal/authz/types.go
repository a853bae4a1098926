// Package authz is the client side of the console's authorization protocol.
//
// Decisions are made by an external Authorization Service reached through an
// Authorizer. Client wraps any Authorizer so that every failure, timeout or
// malformed request becomes a denial. Evaluate composes already-loaded session
// capabilities into a synchronous verdict, and Guard, RequireGate and
// RequirePermission protect views and handlers with those checks.
package authz

import (
	"context"
	"errors"
	"strings"
)

// ReasonValidationFailed is the reason attached to every fail-closed result.
const ReasonValidationFailed = "Validation failed"

// ErrInvalidRequest marks a request rejected before reaching the Authorization Service.
var ErrInvalidRequest = errors.New("authz: invalid request")

// Outcome tells an explicit policy answer apart from a fail-closed denial.
type Outcome string

const (
	OutcomeGranted Outcome = "granted"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
)

// Principal identifies the actor whose access is checked.
type Principal struct {
	ID    string
	Email string
}

// PermissionRequest asks whether the principal holds a permission code, optionally
// scoped to a resource.
type PermissionRequest struct {
	Permission   string `json:"permission"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Action       string `json:"action,omitempty"`
}

// Key identifies the request for re-evaluation and deduplication.
func (r PermissionRequest) Key() string {
	return strings.Join([]string{r.Permission, r.ResourceType, r.ResourceID, r.Action}, "\x1f")
}

func (r PermissionRequest) normalize() PermissionRequest {
	return PermissionRequest{
		Permission:   strings.TrimSpace(r.Permission),
		ResourceType: strings.TrimSpace(r.ResourceType),
		ResourceID:   strings.TrimSpace(r.ResourceID),
		Action:       strings.TrimSpace(r.Action),
	}
}

// PermissionResult is the decision for a PermissionRequest.
type PermissionResult struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason"`
	Permissions []string `json:"permissions,omitempty"`
	Outcome     Outcome  `json:"outcome"`
}

// FailedClosed reports whether the denial came from an error rather than policy.
func (r PermissionResult) FailedClosed() bool { return r.Outcome == OutcomeFailed }

// Operation is the kind of field access being checked.
type Operation string

const (
	OperationRead  Operation = "read"
	OperationWrite Operation = "write"
)

// Valid reports whether op is read or write.
func (op Operation) Valid() bool {
	return op == OperationRead || op == OperationWrite
}

// FieldAccessRequest asks whether a field of an entity type may be read or written.
type FieldAccessRequest struct {
	EntityType string    `json:"entity_type"`
	Field      string    `json:"field"`
	Operation  Operation `json:"operation"`
}

// FieldAccessResult is the decision for a FieldAccessRequest.
type FieldAccessResult struct {
	Allowed   bool    `json:"allowed"`
	Reason    string  `json:"reason"`
	Sensitive bool    `json:"sensitive"`
	Outcome   Outcome `json:"outcome"`
}

// FailedClosed reports whether the denial came from an error rather than policy.
func (r FieldAccessResult) FailedClosed() bool { return r.Outcome == OutcomeFailed }

// Authorizer is the boundary to the external Authorization Service. Implementations
// return an error for any transport or service failure; they never decide locally.
type Authorizer interface {
	CheckPermission(ctx context.Context, principal Principal, req PermissionRequest) (PermissionResult, error)
	CheckFieldAccess(ctx context.Context, principal Principal, req FieldAccessRequest) (FieldAccessResult, error)
}

// PermissionChecker is the fail-closed surface consumed by guards and handlers.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, principal Principal, req PermissionRequest) PermissionResult
}

// FieldChecker is the fail-closed field-security surface.
type FieldChecker interface {
	CheckFieldAccess(ctx context.Context, principal Principal, req FieldAccessRequest) FieldAccessResult
}

func deniedPermission() PermissionResult {
	return PermissionResult{Allowed: false, Reason: ReasonValidationFailed, Outcome: OutcomeFailed}
}

func deniedField() FieldAccessResult {
	return FieldAccessResult{Allowed: false, Reason: ReasonValidationFailed, Outcome: OutcomeFailed}
}
