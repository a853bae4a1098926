package authz

import "strings"

// Capabilities is what the current session already knows about its principal.
type Capabilities struct {
	Admin         bool
	Roles         []string
	HasPermission func(code string) bool
}

// CapabilitiesOf builds Capabilities backed by a fixed permission set.
func CapabilitiesOf(admin bool, roles, permissions []string) Capabilities {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		set[strings.TrimSpace(p)] = struct{}{}
	}
	return Capabilities{
		Admin: admin,
		Roles: roles,
		HasPermission: func(code string) bool {
			_, ok := set[code]
			return ok
		},
	}
}

// holds treats admins as holding every permission.
func (c Capabilities) holds(code string) bool {
	if c.Admin {
		return true
	}
	if c.HasPermission == nil {
		return false
	}
	return c.HasPermission(code)
}

// Requirement declares what a guarded view or handler needs.
type Requirement struct {
	RequireAdmin  bool     `json:"require_admin,omitempty"`
	Role          string   `json:"role,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Permission    string   `json:"permission,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	AnyPermission bool     `json:"any_permission,omitempty"`
}

// Check names the requirement clause that produced a denial.
type Check string

const (
	CheckNone       Check = ""
	CheckAdmin      Check = "admin"
	CheckRole       Check = "role"
	CheckPermission Check = "permission"
)

// Decision is the verdict of Evaluate.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Check   Check  `json:"check,omitempty"`
	Reason  string `json:"reason"`
}

// Evaluate applies r to c. Checks run in order admin, roles, permissions and the
// first failing one wins. Role requirements match when any listed role is
// assigned; permission requirements need every listed code unless AnyPermission
// is set. Evaluate performs no I/O and depends only on its arguments.
func Evaluate(c Capabilities, r Requirement) Decision {
	if r.RequireAdmin && !c.Admin {
		return Decision{Check: CheckAdmin, Reason: "administrator access required"}
	}

	if roles := collect(r.Role, r.Roles, true); len(roles) > 0 {
		if !intersects(c.Roles, roles) {
			return Decision{Check: CheckRole, Reason: "none of the required roles are assigned"}
		}
	}

	if perms := collect(r.Permission, r.Permissions, false); len(perms) > 0 {
		if r.AnyPermission {
			granted := false
			for _, p := range perms {
				if c.holds(p) {
					granted = true
					break
				}
			}
			if !granted {
				return Decision{Check: CheckPermission, Reason: "none of the required permissions are held"}
			}
		} else {
			for _, p := range perms {
				if !c.holds(p) {
					return Decision{Check: CheckPermission, Reason: "missing permission " + p}
				}
			}
		}
	}

	return Decision{Allowed: true, Reason: "allowed"}
}

func collect(single string, many []string, fold bool) []string {
	out := make([]string, 0, len(many)+1)
	add := func(v string) {
		v = strings.TrimSpace(v)
		if fold {
			v = strings.ToLower(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	add(single)
	for _, v := range many {
		add(v)
	}
	return out
}

func intersects(assigned, required []string) bool {
	for _, a := range assigned {
		a = strings.ToLower(strings.TrimSpace(a))
		for _, r := range required {
			if a == r {
				return true
			}
		}
	}
	return false
}
