package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"agora.city/internal/admin"
)

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Active      *bool   `json:"active"`
}

type createPermissionRequest struct {
	Code        string `json:"code" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	Category    string `json:"category" validate:"max=100"`
}

type updatePermissionRequest struct {
	Description *string `json:"description" validate:"omitempty,max=500"`
	Category    *string `json:"category" validate:"omitempty,max=100"`
	Active      *bool   `json:"active"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type assignRoleRequest struct {
	RoleID    string     `json:"role_id" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type bulkRolesRequest struct {
	RoleIDs []string `json:"role_ids" validate:"required,min=1,max=500"`
}

type bulkActiveRequest struct {
	RoleIDs []string `json:"role_ids" validate:"required,min=1,max=500"`
	Active  *bool    `json:"active" validate:"required"`
}

type bulkAssignRequest struct {
	UserIDs   []string   `json:"user_ids" validate:"required,min=1,max=500"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type delegationRequest struct {
	DelegateID string    `json:"delegate_id" validate:"required"`
	RoleID     string    `json:"role_id" validate:"required"`
	Reason     string    `json:"reason" validate:"max=500"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type expireRequest struct {
	Now *time.Time `json:"now"`
}

func (a *API) mountAdmin(r chi.Router) {
	r.Route("/v1/roles", func(r chi.Router) {
		r.With(requirePermission(admin.PermRolesView)).Get("/", a.listRoles)
		r.With(requirePermission(admin.PermRolesManage)).Post("/", a.createRole)
		r.With(requirePermission(admin.PermRolesManage)).Post("/bulk/delete", a.bulkDeleteRoles)
		r.With(requirePermission(admin.PermRolesManage)).Post("/bulk/active", a.bulkSetRolesActive)
		r.Route("/{roleID}", func(r chi.Router) {
			r.With(requirePermission(admin.PermRolesView)).Get("/", a.getRole)
			r.With(requirePermission(admin.PermRolesManage)).Patch("/", a.updateRole)
			r.With(requirePermission(admin.PermRolesManage)).Delete("/", a.deleteRole)
			r.With(requirePermission(admin.PermRolesView)).Get("/permissions", a.rolePermissions)
			r.With(requirePermission(admin.PermPermissionsManage)).Put("/permissions", a.setRolePermissions)
			r.With(requirePermission(admin.PermPermissionsManage)).Put("/permissions/{permissionID}", a.grantPermission)
			r.With(requirePermission(admin.PermPermissionsManage)).Delete("/permissions/{permissionID}", a.revokePermission)
			r.With(requirePermission(admin.PermRolesView)).Get("/members", a.roleMembers)
			r.With(requirePermission(admin.PermUsersAssign)).Post("/members/bulk", a.bulkAssignRole)
		})
	})

	r.Route("/v1/permissions", func(r chi.Router) {
		r.With(requirePermission(admin.PermRolesView)).Get("/", a.listPermissions)
		r.Group(func(r chi.Router) {
			r.Use(requirePermission(admin.PermPermissionsManage))
			r.Post("/", a.createPermission)
			r.Patch("/{permissionID}", a.updatePermission)
			r.Delete("/{permissionID}", a.deletePermission)
		})
	})

	r.With(requirePermission(admin.PermRolesView)).Get("/v1/assignments", a.listAllAssignments)
	r.Route("/v1/users/{userID}/assignments", func(r chi.Router) {
		r.With(requirePermission(admin.PermRolesView)).Get("/", a.listUserAssignments)
		r.With(requirePermission(admin.PermUsersAssign)).Post("/", a.assignRole)
		r.With(requirePermission(admin.PermUsersAssign)).Delete("/{roleID}", a.removeAssignment)
	})

	r.Route("/v1/delegations", func(r chi.Router) {
		r.With(requireAnyPermission(admin.PermDelegationsRequest, admin.PermDelegationsApprove)).Get("/", a.listDelegations)
		r.With(requirePermission(admin.PermDelegationsRequest)).Post("/", a.requestDelegation)
		r.Group(func(r chi.Router) {
			r.Use(requirePermission(admin.PermDelegationsApprove))
			r.Post("/expire", a.expireDelegations)
			r.Post("/{delegationID}/approve", a.approveDelegation)
			r.Post("/{delegationID}/reject", a.rejectDelegation)
			r.Post("/{delegationID}/revoke", a.revokeDelegation)
		})
	})

	a.mountConfig(r)
}

// Roles ----------------------------------------------------------------------

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.admin.ListRoles(r.Context())
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": nonNil(roles)})
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !a.bind(w, r, &req) {
		return
	}
	role, err := a.admin.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.admin.GetRole(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !a.bind(w, r, &req) {
		return
	}
	role, err := a.admin.UpdateRole(r.Context(), chi.URLParam(r, "roleID"), admin.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
	})
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteRole(r.Context(), chi.URLParam(r, "roleID")); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) rolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.admin.RolePermissions(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNil(perms)})
}

func (a *API) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req setRolePermissionsRequest
	if !a.bind(w, r, &req) {
		return
	}
	if err := a.admin.SetRolePermissions(r.Context(), chi.URLParam(r, "roleID"), req.Permissions); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) grantPermission(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.GrantPermission(r.Context(), chi.URLParam(r, "roleID"), chi.URLParam(r, "permissionID")); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) revokePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.RevokePermission(r.Context(), chi.URLParam(r, "roleID"), chi.URLParam(r, "permissionID")); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) roleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := a.admin.ListRoleMembers(r.Context(), chi.URLParam(r, "roleID"))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": nonNil(members)})
}

// Bulk -----------------------------------------------------------------------

func (a *API) bulkDeleteRoles(w http.ResponseWriter, r *http.Request) {
	var req bulkRolesRequest
	if !a.bind(w, r, &req) {
		return
	}
	writeBatch(w, a.admin.BulkDeleteRoles(r.Context(), req.RoleIDs))
}

func (a *API) bulkSetRolesActive(w http.ResponseWriter, r *http.Request) {
	var req bulkActiveRequest
	if !a.bind(w, r, &req) {
		return
	}
	writeBatch(w, a.admin.BulkSetRolesActive(r.Context(), req.RoleIDs, *req.Active))
}

func (a *API) bulkAssignRole(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if !a.bind(w, r, &req) {
		return
	}
	res, err := a.admin.BulkAssignRole(r.Context(), req.UserIDs, chi.URLParam(r, "roleID"), actorID(r), req.ExpiresAt)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeBatch(w, res)
}

// writeBatch answers 200 when every attempted item succeeded and 207 otherwise.
func writeBatch(w http.ResponseWriter, res admin.BatchResult) {
	code := http.StatusOK
	if !res.Complete() {
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, res)
}

// Permissions ----------------------------------------------------------------

func (a *API) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.admin.ListPermissions(r.Context())
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": nonNil(perms)})
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !a.bind(w, r, &req) {
		return
	}
	perm, err := a.admin.CreatePermission(r.Context(), req.Code, req.Description, req.Category)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/permissions/%s", perm.ID))
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) updatePermission(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if !a.bind(w, r, &req) {
		return
	}
	perm, err := a.admin.UpdatePermission(r.Context(), chi.URLParam(r, "permissionID"), admin.PermissionUpdate{
		Description: req.Description,
		Category:    req.Category,
		Active:      req.Active,
	})
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeletePermission(r.Context(), chi.URLParam(r, "permissionID")); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Assignments ----------------------------------------------------------------

func (a *API) listAllAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := a.admin.ListAssignments(r.Context(), "")
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": nonNil(assignments)})
}

func (a *API) listUserAssignments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	assignments, err := a.admin.ListAssignments(r.Context(), userID)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "assignments": nonNil(assignments)})
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if !a.bind(w, r, &req) {
		return
	}
	assignment, err := a.admin.AssignRole(r.Context(), chi.URLParam(r, "userID"), req.RoleID, actorID(r), req.ExpiresAt)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

func (a *API) removeAssignment(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.RemoveAssignment(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "roleID")); err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delegations ----------------------------------------------------------------

func (a *API) listDelegations(w http.ResponseWriter, r *http.Request) {
	status := admin.DelegationStatus(r.URL.Query().Get("status"))
	delegations, err := a.admin.ListDelegations(r.Context(), status)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"delegations": nonNil(delegations)})
}

func (a *API) requestDelegation(w http.ResponseWriter, r *http.Request) {
	var req delegationRequest
	if !a.bind(w, r, &req) {
		return
	}
	d, err := a.admin.RequestDelegation(r.Context(), admin.DelegationRequest{
		DelegatorID: actorID(r),
		DelegateID:  req.DelegateID,
		RoleID:      req.RoleID,
		Reason:      req.Reason,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/delegations/%s", d.ID))
	writeJSON(w, http.StatusCreated, d)
}

func (a *API) approveDelegation(w http.ResponseWriter, r *http.Request) {
	d, err := a.admin.ApproveDelegation(r.Context(), chi.URLParam(r, "delegationID"), actorID(r))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) rejectDelegation(w http.ResponseWriter, r *http.Request) {
	d, err := a.admin.RejectDelegation(r.Context(), chi.URLParam(r, "delegationID"), actorID(r))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) revokeDelegation(w http.ResponseWriter, r *http.Request) {
	d, err := a.admin.RevokeDelegation(r.Context(), chi.URLParam(r, "delegationID"), actorID(r))
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (a *API) expireDelegations(w http.ResponseWriter, r *http.Request) {
	now := a.now()
	if r.ContentLength > 0 {
		var req expireRequest
		if !a.bind(w, r, &req) {
			return
		}
		if req.Now != nil {
			now = req.Now.UTC()
		}
	}
	res, err := a.admin.ExpireDelegations(r.Context(), now)
	if err != nil {
		handleAdminError(w, r, err)
		return
	}
	writeBatch(w, res)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
