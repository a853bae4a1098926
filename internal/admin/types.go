// Package admin manages roles, permissions, their links and user assignments,
// plus permission templates, field-security rule sets and role delegations.
package admin

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("resource conflict")
	ErrSystemRole   = errors.New("system roles cannot be modified this way")
	ErrInvalidState = errors.New("invalid state transition")
)

type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	System      bool      `json:"system"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RoleUpdate struct {
	Name        *string
	Description *string
	Active      *bool
}

type Permission struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type PermissionUpdate struct {
	Description *string
	Category    *string
	Active      *bool
}

type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// UserRoleAssignment grants a role to a user, optionally until ExpiresAt.
type UserRoleAssignment struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the assignment has lapsed at now.
func (a UserRoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

type DelegationStatus string

const (
	DelegationPending  DelegationStatus = "pending"
	DelegationApproved DelegationStatus = "approved"
	DelegationRejected DelegationStatus = "rejected"
	DelegationRevoked  DelegationStatus = "revoked"
	DelegationExpired  DelegationStatus = "expired"
)

// Valid reports whether s is a known status.
func (s DelegationStatus) Valid() bool {
	switch s {
	case DelegationPending, DelegationApproved, DelegationRejected, DelegationRevoked, DelegationExpired:
		return true
	}
	return false
}

// Delegation is a request by one user to lend a role to another until ExpiresAt.
type Delegation struct {
	ID          string           `json:"id"`
	DelegatorID string           `json:"delegator_id"`
	DelegateID  string           `json:"delegate_id"`
	RoleID      string           `json:"role_id"`
	Reason      string           `json:"reason,omitempty"`
	Status      DelegationStatus `json:"status"`
	ExpiresAt   time.Time        `json:"expires_at"`
	DecidedBy   string           `json:"decided_by,omitempty"`
	DecidedAt   *time.Time       `json:"decided_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Store persists administration records. Implementations map missing rows to
// ErrNotFound and uniqueness violations to ErrConflict.
type Store interface {
	CreateRole(ctx context.Context, role Role) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate, at time.Time) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	UpdatePermission(ctx context.Context, id string, upd PermissionUpdate) (Permission, error)
	DeletePermission(ctx context.Context, id string) error

	SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error
	AddRolePermission(ctx context.Context, roleID, permissionID string) error
	RemoveRolePermission(ctx context.Context, roleID, permissionID string) error
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	AssignRole(ctx context.Context, a UserRoleAssignment) (UserRoleAssignment, error)
	RemoveAssignment(ctx context.Context, userID, roleID string) error
	// RemoveExpiringAssignment deletes the assignment only while it still ends
	// at expiresAt. A missing or replaced assignment is left alone and is not an
	// error.
	RemoveExpiringAssignment(ctx context.Context, userID, roleID string, expiresAt time.Time) error
	// ListAssignments returns every assignment when userID is empty.
	ListAssignments(ctx context.Context, userID string) ([]UserRoleAssignment, error)
	ListRoleMembers(ctx context.Context, roleID string) ([]UserRoleAssignment, error)

	CreateDelegation(ctx context.Context, d Delegation) (Delegation, error)
	GetDelegation(ctx context.Context, id string) (Delegation, error)
	// ListDelegations returns every delegation when status is empty.
	ListDelegations(ctx context.Context, status DelegationStatus) ([]Delegation, error)
	// TransitionDelegation moves a delegation from one status to another and
	// fails with ErrInvalidState when it is no longer in from.
	TransitionDelegation(ctx context.Context, id string, from, to DelegationStatus, decidedBy string, at time.Time) (Delegation, error)
}
