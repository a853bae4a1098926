package admin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"agora.city/internal/audit"
	"agora.city/internal/auth"
	"agora.city/internal/events"
	"agora.city/internal/ids"
	"agora.city/internal/kv"
)

const defaultBatchConcurrency = 4

var permissionCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_.]*$`)

// Service applies validation and the system-role rules on top of a Store.
type Service struct {
	store       Store
	config      kv.Store
	publisher   events.Publisher
	now         func() time.Time
	concurrency int
}

// Option configures Service.
type Option func(*Service)

// WithPublisher receives an event for every successful mutation.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBatchConcurrency bounds the number of concurrent mutations in bulk operations.
func WithBatchConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService wires the relational store and the key/value configuration store.
func NewService(store Store, config kv.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("admin store is required")
	}
	if config == nil {
		return nil, errors.New("config store is required")
	}
	s := &Service{
		store:       store,
		config:      config,
		publisher:   events.Discard{},
		now:         func() time.Time { return time.Now().UTC() },
		concurrency: defaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Roles --------------------------------------------------------------------

func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	now := s.now()
	role, err := s.store.CreateRole(ctx, Role{
		ID:          ids.NewAt(now),
		Name:        name,
		Description: strings.TrimSpace(description),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Role{}, err
	}
	s.emit(ctx, events.KindRoleCreated, role.ID, map[string]any{"name": role.Name})
	return role, nil
}

func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *Service) GetRole(ctx context.Context, id string) (Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, id)
}

// UpdateRole changes a role. System roles keep their name and stay active.
func (s *Service) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if role.System && trimmed != role.Name {
			return Role{}, fmt.Errorf("%w: %s cannot be renamed", ErrSystemRole, role.Name)
		}
		upd.Name = &trimmed
	}
	if upd.Description != nil {
		trimmed := strings.TrimSpace(*upd.Description)
		upd.Description = &trimmed
	}
	if role.System && upd.Active != nil && !*upd.Active {
		return Role{}, fmt.Errorf("%w: %s cannot be deactivated", ErrSystemRole, role.Name)
	}
	updated, err := s.store.UpdateRole(ctx, role.ID, upd, s.now())
	if err != nil {
		return Role{}, err
	}
	s.emit(ctx, events.KindRoleUpdated, updated.ID, map[string]any{"name": updated.Name, "active": updated.Active})
	return updated, nil
}

func (s *Service) DeleteRole(ctx context.Context, id string) error {
	role, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if role.System {
		return fmt.Errorf("%w: %s cannot be deleted", ErrSystemRole, role.Name)
	}
	if err := s.store.DeleteRole(ctx, role.ID); err != nil {
		return err
	}
	s.emit(ctx, events.KindRoleDeleted, role.ID, map[string]any{"name": role.Name})
	return nil
}

// Permissions --------------------------------------------------------------

func (s *Service) CreatePermission(ctx context.Context, code, description, category string) (Permission, error) {
	code = strings.TrimSpace(strings.ToLower(code))
	if !permissionCodePattern.MatchString(code) {
		return Permission{}, fmt.Errorf("%w: permission code %q must match %s", ErrInvalidInput, code, permissionCodePattern)
	}
	perm, err := s.store.CreatePermission(ctx, Permission{
		ID:          ids.New(),
		Code:        code,
		Description: strings.TrimSpace(description),
		Category:    strings.TrimSpace(strings.ToLower(category)),
		Active:      true,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return Permission{}, err
	}
	s.emit(ctx, events.KindPermissionCreated, perm.ID, map[string]any{"code": perm.Code})
	return perm, nil
}

func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *Service) UpdatePermission(ctx context.Context, id string, upd PermissionUpdate) (Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Permission{}, fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	if upd.Description != nil {
		trimmed := strings.TrimSpace(*upd.Description)
		upd.Description = &trimmed
	}
	if upd.Category != nil {
		trimmed := strings.TrimSpace(strings.ToLower(*upd.Category))
		upd.Category = &trimmed
	}
	perm, err := s.store.UpdatePermission(ctx, id, upd)
	if err != nil {
		return Permission{}, err
	}
	s.emit(ctx, events.KindPermissionUpdated, perm.ID, map[string]any{"code": perm.Code, "active": perm.Active})
	return perm, nil
}

func (s *Service) DeletePermission(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	if err := s.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, events.KindPermissionDeleted, id, nil)
	return nil
}

// Role-permission links ----------------------------------------------------

// SetRolePermissions replaces the permissions linked to a role.
func (s *Service) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	cleaned := uniqueIDs(permissionIDs)
	if err := s.store.SetRolePermissions(ctx, role.ID, cleaned); err != nil {
		return err
	}
	s.emit(ctx, events.KindRolePermissions, role.ID, map[string]any{"permission_ids": cleaned})
	return nil
}

func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	roleID, permissionID = strings.TrimSpace(roleID), strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	if err := s.store.AddRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.emit(ctx, events.KindRolePermissions, roleID, map[string]any{"granted": permissionID})
	return nil
}

func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	roleID, permissionID = strings.TrimSpace(roleID), strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return fmt.Errorf("%w: role_id and permission_id are required", ErrInvalidInput)
	}
	if err := s.store.RemoveRolePermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	s.emit(ctx, events.KindRolePermissions, roleID, map[string]any{"revoked": permissionID})
	return nil
}

func (s *Service) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return s.store.RolePermissions(ctx, role.ID)
}

// Assignments --------------------------------------------------------------

// AssignRole grants an active role to a user. A nil expiresAt makes the
// assignment permanent.
func (s *Service) AssignRole(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) (UserRoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserRoleAssignment{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return UserRoleAssignment{}, err
	}
	return s.assign(ctx, userID, role, assignedBy, expiresAt)
}

func (s *Service) assign(ctx context.Context, userID string, role Role, assignedBy string, expiresAt *time.Time) (UserRoleAssignment, error) {
	if !role.Active {
		return UserRoleAssignment{}, fmt.Errorf("%w: role %s is inactive", ErrInvalidInput, role.Name)
	}
	now := s.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return UserRoleAssignment{}, fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}
	a, err := s.store.AssignRole(ctx, UserRoleAssignment{
		UserID:     userID,
		RoleID:     role.ID,
		AssignedBy: strings.TrimSpace(assignedBy),
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	})
	if err != nil {
		return UserRoleAssignment{}, err
	}
	s.emit(ctx, events.KindAssignmentCreated, userID, map[string]any{"role_id": role.ID, "role": role.Name})
	return a, nil
}

func (s *Service) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	userID, roleID = strings.TrimSpace(userID), strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.RemoveAssignment(ctx, userID, roleID); err != nil {
		return err
	}
	s.emit(ctx, events.KindAssignmentRemoved, userID, map[string]any{"role_id": roleID})
	return nil
}

// ListAssignments returns the user's assignments that have not expired.
func (s *Service) ListAssignments(ctx context.Context, userID string) ([]UserRoleAssignment, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	all, err := s.store.ListAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.current(all), nil
}

func (s *Service) ListRoleMembers(ctx context.Context, roleID string) ([]UserRoleAssignment, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	all, err := s.store.ListRoleMembers(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	return s.current(all), nil
}

func (s *Service) current(all []UserRoleAssignment) []UserRoleAssignment {
	now := s.now()
	out := make([]UserRoleAssignment, 0, len(all))
	for _, a := range all {
		if !a.Expired(now) {
			out = append(out, a)
		}
	}
	return out
}

// Helpers -------------------------------------------------------------------

func (s *Service) emit(ctx context.Context, kind, subject string, data map[string]any) {
	evt := events.Event{Kind: kind, Subject: subject, Data: data, Timestamp: s.now()}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		evt.ActorID = p.ID
	}
	fields := map[string]any{"subject": subject}
	for k, v := range data {
		fields[k] = v
	}
	_ = audit.LogEvent(ctx, kind, fields)
	s.publisher.Publish(evt)
}

func uniqueIDs(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
