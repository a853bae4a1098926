package auth

import (
	"sort"
	"strings"
)

// RoleAdmin grants the administrator capability when present in a principal's roles.
const RoleAdmin = "admin"

// Principal is the acting user of a console session, with roles and permission
// codes resolved by the identity provider.
type Principal struct {
	ID          string
	Email       string
	Roles       []string
	Permissions map[string]struct{}
	Admin       bool
}

// NewPrincipal constructs a principal with normalised roles and a permission set.
func NewPrincipal(id, email string, roles, perms []string, admin bool) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set[p] = struct{}{}
	}
	roles = dedupeRoles(roles)
	for _, r := range roles {
		if r == RoleAdmin {
			admin = true
		}
	}
	return Principal{
		ID:          strings.TrimSpace(id),
		Email:       strings.TrimSpace(strings.ToLower(email)),
		Roles:       roles,
		Permissions: set,
		Admin:       admin,
	}
}

// HasPermission reports whether the session carries the permission code.
func (p Principal) HasPermission(code string) bool {
	_, ok := p.Permissions[code]
	return ok
}

// HasRole reports whether the principal is assigned role.
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// PermissionList returns the permission codes sorted.
func (p Principal) PermissionList() []string {
	out := make([]string, 0, len(p.Permissions))
	for k := range p.Permissions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
