// Package memory implements admin.Store in process memory for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"agora.city/internal/admin"
)

type assignmentKey struct {
	userID string
	roleID string
}

// Store implements admin.Store with in-process concurrency safety.
type Store struct {
	mu          sync.RWMutex
	roles       map[string]admin.Role
	perms       map[string]admin.Permission
	links       map[string]map[string]struct{} // role id -> permission ids
	assignments map[assignmentKey]admin.UserRoleAssignment
	delegations map[string]admin.Delegation
}

var _ admin.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		roles:       make(map[string]admin.Role),
		perms:       make(map[string]admin.Permission),
		links:       make(map[string]map[string]struct{}),
		assignments: make(map[assignmentKey]admin.UserRoleAssignment),
		delegations: make(map[string]admin.Delegation),
	}
}

func (s *Store) CreateRole(_ context.Context, role admin.Role) (admin.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; ok {
		return admin.Role{}, admin.ErrConflict
	}
	if s.roleNameTaken(role.Name, "") {
		return admin.Role{}, admin.ErrConflict
	}
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) roleNameTaken(name, exceptID string) bool {
	for id, r := range s.roles {
		if id != exceptID && strings.EqualFold(r.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) ListRoles(_ context.Context) ([]admin.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]admin.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetRole(_ context.Context, id string) (admin.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return admin.Role{}, admin.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpdateRole(_ context.Context, id string, upd admin.RoleUpdate, at time.Time) (admin.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return admin.Role{}, admin.ErrNotFound
	}
	if upd.Name != nil {
		if s.roleNameTaken(*upd.Name, id) {
			return admin.Role{}, admin.ErrConflict
		}
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	if upd.Active != nil {
		r.Active = *upd.Active
	}
	r.UpdatedAt = at
	s.roles[id] = r
	return r, nil
}

func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return admin.ErrNotFound
	}
	delete(s.roles, id)
	delete(s.links, id)
	for k := range s.assignments {
		if k.roleID == id {
			delete(s.assignments, k)
		}
	}
	return nil
}

func (s *Store) CreatePermission(_ context.Context, perm admin.Permission) (admin.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.perms {
		if id == perm.ID || p.Code == perm.Code {
			return admin.Permission{}, admin.ErrConflict
		}
	}
	s.perms[perm.ID] = perm
	return perm, nil
}

func (s *Store) ListPermissions(_ context.Context) ([]admin.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPermissions(func(string) bool { return true }), nil
}

func (s *Store) sortedPermissions(keep func(id string) bool) []admin.Permission {
	out := make([]admin.Permission, 0, len(s.perms))
	for id, p := range s.perms {
		if keep(id) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (s *Store) GetPermission(_ context.Context, id string) (admin.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[id]
	if !ok {
		return admin.Permission{}, admin.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdatePermission(_ context.Context, id string, upd admin.PermissionUpdate) (admin.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return admin.Permission{}, admin.ErrNotFound
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Category != nil {
		p.Category = *upd.Category
	}
	if upd.Active != nil {
		p.Active = *upd.Active
	}
	s.perms[id] = p
	return p, nil
}

func (s *Store) DeletePermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return admin.ErrNotFound
	}
	delete(s.perms, id)
	for _, set := range s.links {
		delete(set, id)
	}
	return nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID string, permissionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return admin.ErrNotFound
	}
	set := make(map[string]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := s.perms[id]; !ok {
			return admin.ErrNotFound
		}
		set[id] = struct{}{}
	}
	s.links[roleID] = set
	return nil
}

func (s *Store) AddRolePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return admin.ErrNotFound
	}
	if _, ok := s.perms[permissionID]; !ok {
		return admin.ErrNotFound
	}
	set, ok := s.links[roleID]
	if !ok {
		set = make(map[string]struct{})
		s.links[roleID] = set
	}
	set[permissionID] = struct{}{}
	return nil
}

func (s *Store) RemoveRolePermission(_ context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.links[roleID]
	if !ok {
		return admin.ErrNotFound
	}
	if _, ok := set[permissionID]; !ok {
		return admin.ErrNotFound
	}
	delete(set, permissionID)
	return nil
}

func (s *Store) RolePermissions(_ context.Context, roleID string) ([]admin.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, admin.ErrNotFound
	}
	set := s.links[roleID]
	return s.sortedPermissions(func(id string) bool {
		_, ok := set[id]
		return ok
	}), nil
}

// AssignRole stores a, replacing an existing assignment only once it has expired.
func (s *Store) AssignRole(_ context.Context, a admin.UserRoleAssignment) (admin.UserRoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[a.RoleID]; !ok {
		return admin.UserRoleAssignment{}, admin.ErrNotFound
	}
	key := assignmentKey{userID: a.UserID, roleID: a.RoleID}
	if existing, ok := s.assignments[key]; ok && !existing.Expired(a.CreatedAt) {
		return admin.UserRoleAssignment{}, admin.ErrConflict
	}
	s.assignments[key] = a
	return a, nil
}

func (s *Store) RemoveAssignment(_ context.Context, userID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{userID: userID, roleID: roleID}
	if _, ok := s.assignments[key]; !ok {
		return admin.ErrNotFound
	}
	delete(s.assignments, key)
	return nil
}

func (s *Store) RemoveExpiringAssignment(_ context.Context, userID, roleID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey{userID: userID, roleID: roleID}
	if a, ok := s.assignments[key]; ok && a.ExpiresAt != nil && a.ExpiresAt.Equal(expiresAt) {
		delete(s.assignments, key)
	}
	return nil
}

func (s *Store) ListAssignments(_ context.Context, userID string) ([]admin.UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedAssignments(func(k assignmentKey) bool { return userID == "" || k.userID == userID }), nil
}

func (s *Store) ListRoleMembers(_ context.Context, roleID string) ([]admin.UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedAssignments(func(k assignmentKey) bool { return k.roleID == roleID }), nil
}

func (s *Store) sortedAssignments(keep func(assignmentKey) bool) []admin.UserRoleAssignment {
	out := make([]admin.UserRoleAssignment, 0)
	for k, a := range s.assignments {
		if keep(k) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].RoleID < out[j].RoleID
	})
	return out
}

func (s *Store) CreateDelegation(_ context.Context, d admin.Delegation) (admin.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.delegations[d.ID]; ok {
		return admin.Delegation{}, admin.ErrConflict
	}
	if _, ok := s.roles[d.RoleID]; !ok {
		return admin.Delegation{}, admin.ErrNotFound
	}
	s.delegations[d.ID] = d
	return d, nil
}

func (s *Store) GetDelegation(_ context.Context, id string) (admin.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.delegations[id]
	if !ok {
		return admin.Delegation{}, admin.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDelegations(_ context.Context, status admin.DelegationStatus) ([]admin.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]admin.Delegation, 0, len(s.delegations))
	for _, d := range s.delegations {
		if status == "" || d.Status == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TransitionDelegation(_ context.Context, id string, from, to admin.DelegationStatus, decidedBy string, at time.Time) (admin.Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.delegations[id]
	if !ok {
		return admin.Delegation{}, admin.ErrNotFound
	}
	if d.Status != from {
		return admin.Delegation{}, admin.ErrInvalidState
	}
	d.Status = to
	if decidedBy == "" {
		if to == admin.DelegationPending {
			d.DecidedBy, d.DecidedAt = "", nil
		}
	} else {
		ts := at
		d.DecidedBy, d.DecidedAt = decidedBy, &ts
	}
	s.delegations[id] = d
	return d, nil
}
