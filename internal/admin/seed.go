package admin

import (
	"context"
	"errors"
	"strings"
	"time"

	"agora.city/internal/ids"
)

// System role names.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

var viewerPermissions = []string{PermRolesView, PermAnalyticsView}

// Bootstrap creates the built-in permissions and the system roles when they are
// missing. It is idempotent and used where SQL seeds do not run.
func Bootstrap(ctx context.Context, store Store, now time.Time) error {
	perms, err := store.ListPermissions(ctx)
	if err != nil {
		return err
	}
	byCode := make(map[string]string, len(perms))
	for _, p := range perms {
		byCode[p.Code] = p.ID
	}
	raced := false
	for _, bp := range BuiltinPermissions() {
		if _, ok := byCode[bp.Code]; ok {
			continue
		}
		created, err := store.CreatePermission(ctx, Permission{
			ID:          ids.NewAt(now),
			Code:        bp.Code,
			Description: bp.Description,
			Category:    bp.Category,
			Active:      true,
			CreatedAt:   now,
		})
		switch {
		case errors.Is(err, ErrConflict):
			raced = true
		case err != nil:
			return err
		default:
			byCode[bp.Code] = created.ID
		}
	}
	// Another bootstrap created some codes first; pick up their ids.
	if raced {
		perms, err := store.ListPermissions(ctx)
		if err != nil {
			return err
		}
		for _, p := range perms {
			byCode[p.Code] = p.ID
		}
	}

	roles, err := store.ListRoles(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(roles))
	for _, r := range roles {
		existing[strings.ToLower(r.Name)] = true
	}
	system := []struct {
		name, description string
		perms             []string
	}{
		{name: RoleAdmin, description: "Full administrative access"},
		{name: RoleViewer, description: "Read-only access to the administration console", perms: viewerPermissions},
	}
	for _, sr := range system {
		if existing[sr.name] {
			continue
		}
		role, err := store.CreateRole(ctx, Role{
			ID:          ids.NewAt(now),
			Name:        sr.name,
			Description: sr.description,
			System:      true,
			Active:      true,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		if len(sr.perms) == 0 {
			continue
		}
		permIDs := make([]string, 0, len(sr.perms))
		for _, code := range sr.perms {
			if id := byCode[code]; id != "" {
				permIDs = append(permIDs, id)
			}
		}
		if err := store.SetRolePermissions(ctx, role.ID, permIDs); err != nil {
			return err
		}
	}
	return nil
}
