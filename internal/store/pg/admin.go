package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agora.city/internal/admin"
)

var _ admin.Store = (*Store)(nil)

const (
	roleColumns       = `id, name, description, is_system, is_active, created_at, updated_at`
	permissionColumns = `id, code, description, category, is_active, created_at`
	assignmentColumns = `user_id, role_id, assigned_by, expires_at, created_at`
	delegationColumns = `id, delegator_id, delegate_id, role_id, reason, status, expires_at, decided_by, decided_at, created_at`
)

type scanner interface {
	Scan(dest ...any) error
}

func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return admin.ErrConflict
		case pgErrForeignKeyViolation:
			return admin.ErrNotFound
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return admin.ErrNotFound
	}
	return err
}

// Roles ----------------------------------------------------------------------

func scanRole(row scanner) (admin.Role, error) {
	var (
		role admin.Role
		desc sql.NullString
	)
	if err := row.Scan(&role.ID, &role.Name, &desc, &role.System, &role.Active, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return admin.Role{}, err
	}
	role.Description = desc.String
	return role, nil
}

func (s *Store) CreateRole(ctx context.Context, role admin.Role) (admin.Role, error) {
	if s.db == nil {
		return admin.Role{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, is_system, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+roleColumns,
		role.ID, role.Name, nullIfEmpty(role.Description), role.System, role.Active, role.CreatedAt, role.UpdatedAt)
	created, err := scanRole(row)
	if err != nil {
		return admin.Role{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]admin.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []admin.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) GetRole(ctx context.Context, id string) (admin.Role, error) {
	if s.db == nil {
		return admin.Role{}, errNoDB
	}
	role, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if err != nil {
		return admin.Role{}, notFound(err)
	}
	return role, nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd admin.RoleUpdate, at time.Time) (admin.Role, error) {
	if s.db == nil {
		return admin.Role{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if len(sets) == 0 {
		return s.GetRole(ctx, id)
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", idx))
	args = append(args, at)
	idx++
	query := fmt.Sprintf(`update roles set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, roleColumns)
	args = append(args, id)
	role, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return admin.Role{}, notFound(mapWriteError(err))
	}
	return role, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	return s.deleteOne(ctx, `delete from roles where id = $1`, id)
}

func (s *Store) deleteOne(ctx context.Context, query string, args ...any) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return admin.ErrNotFound
	}
	return nil
}

// Permissions ------------------------------------------------------------------

func scanPermission(row scanner) (admin.Permission, error) {
	var (
		perm     admin.Permission
		desc     sql.NullString
		category sql.NullString
	)
	if err := row.Scan(&perm.ID, &perm.Code, &desc, &category, &perm.Active, &perm.CreatedAt); err != nil {
		return admin.Permission{}, err
	}
	perm.Description = desc.String
	perm.Category = category.String
	return perm, nil
}

func (s *Store) CreatePermission(ctx context.Context, perm admin.Permission) (admin.Permission, error) {
	if s.db == nil {
		return admin.Permission{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (id, code, description, category, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6)
		returning `+permissionColumns,
		perm.ID, perm.Code, nullIfEmpty(perm.Description), nullIfEmpty(perm.Category), perm.Active, perm.CreatedAt)
	created, err := scanPermission(row)
	if err != nil {
		return admin.Permission{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) ListPermissions(ctx context.Context) ([]admin.Permission, error) {
	return s.queryPermissions(ctx, `select `+permissionColumns+` from permissions order by code`)
}

func (s *Store) queryPermissions(ctx context.Context, query string, args ...any) ([]admin.Permission, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []admin.Permission{}
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

func (s *Store) GetPermission(ctx context.Context, id string) (admin.Permission, error) {
	if s.db == nil {
		return admin.Permission{}, errNoDB
	}
	perm, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1`, id))
	if err != nil {
		return admin.Permission{}, notFound(err)
	}
	return perm, nil
}

func (s *Store) UpdatePermission(ctx context.Context, id string, upd admin.PermissionUpdate) (admin.Permission, error) {
	if s.db == nil {
		return admin.Permission{}, errNoDB
	}
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Description != nil {
		sets = append(sets, fmt.Sprintf("description = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Description))
		idx++
	}
	if upd.Category != nil {
		sets = append(sets, fmt.Sprintf("category = $%d", idx))
		args = append(args, nullIfEmpty(*upd.Category))
		idx++
	}
	if upd.Active != nil {
		sets = append(sets, fmt.Sprintf("is_active = $%d", idx))
		args = append(args, *upd.Active)
		idx++
	}
	if len(sets) == 0 {
		return s.GetPermission(ctx, id)
	}
	query := fmt.Sprintf(`update permissions set %s where id = $%d returning %s`, strings.Join(sets, ", "), idx, permissionColumns)
	args = append(args, id)
	perm, err := scanPermission(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return admin.Permission{}, notFound(err)
	}
	return perm, nil
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	return s.deleteOne(ctx, `delete from permissions where id = $1`, id)
}

// Role-permission links --------------------------------------------------------

func (s *Store) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if s.db == nil {
		return errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		return notFound(err)
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, permID := range permissionIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id) values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			return mapWriteError(err)
		}
	}
	return tx.Commit()
}

func (s *Store) AddRolePermission(ctx context.Context, roleID, permissionID string) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id) values ($1, $2)
		on conflict do nothing
	`, roleID, permissionID)
	return mapWriteError(err)
}

func (s *Store) RemoveRolePermission(ctx context.Context, roleID, permissionID string) error {
	return s.deleteOne(ctx, `delete from role_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID)
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]admin.Permission, error) {
	return s.queryPermissions(ctx, `
		select p.id, p.code, p.description, p.category, p.is_active, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.code
	`, roleID)
}

// Assignments ----------------------------------------------------------------

func scanAssignment(row scanner) (admin.UserRoleAssignment, error) {
	var (
		a       admin.UserRoleAssignment
		by      sql.NullString
		expires sql.NullTime
	)
	if err := row.Scan(&a.UserID, &a.RoleID, &by, &expires, &a.CreatedAt); err != nil {
		return admin.UserRoleAssignment{}, err
	}
	a.AssignedBy = by.String
	a.ExpiresAt = timePtr(expires)
	return a, nil
}

// AssignRole inserts the assignment, replacing an existing one only once it has expired.
func (s *Store) AssignRole(ctx context.Context, a admin.UserRoleAssignment) (admin.UserRoleAssignment, error) {
	if s.db == nil {
		return admin.UserRoleAssignment{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into user_role_assignments (user_id, role_id, assigned_by, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, role_id) do update
		set assigned_by = excluded.assigned_by, expires_at = excluded.expires_at, created_at = excluded.created_at
		where user_role_assignments.expires_at is not null
		  and user_role_assignments.expires_at <= excluded.created_at
		returning `+assignmentColumns,
		a.UserID, a.RoleID, nullIfEmpty(a.AssignedBy), nullTime(a.ExpiresAt), a.CreatedAt)
	created, err := scanAssignment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return admin.UserRoleAssignment{}, admin.ErrConflict
	}
	if err != nil {
		return admin.UserRoleAssignment{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	return s.deleteOne(ctx, `delete from user_role_assignments where user_id = $1 and role_id = $2`, userID, roleID)
}

func (s *Store) RemoveExpiringAssignment(ctx context.Context, userID, roleID string, expiresAt time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx,
		`delete from user_role_assignments where user_id = $1 and role_id = $2 and expires_at = $3`,
		userID, roleID, expiresAt)
	return err
}

func (s *Store) ListAssignments(ctx context.Context, userID string) ([]admin.UserRoleAssignment, error) {
	if userID == "" {
		return s.queryAssignments(ctx, `select `+assignmentColumns+` from user_role_assignments order by user_id, role_id`)
	}
	return s.queryAssignments(ctx, `select `+assignmentColumns+` from user_role_assignments where user_id = $1 order by role_id`, userID)
}

func (s *Store) ListRoleMembers(ctx context.Context, roleID string) ([]admin.UserRoleAssignment, error) {
	return s.queryAssignments(ctx, `select `+assignmentColumns+` from user_role_assignments where role_id = $1 order by user_id`, roleID)
}

func (s *Store) queryAssignments(ctx context.Context, query string, args ...any) ([]admin.UserRoleAssignment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []admin.UserRoleAssignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delegations ----------------------------------------------------------------

func scanDelegation(row scanner) (admin.Delegation, error) {
	var (
		d         admin.Delegation
		reason    sql.NullString
		decidedBy sql.NullString
		decidedAt sql.NullTime
		status    string
	)
	if err := row.Scan(&d.ID, &d.DelegatorID, &d.DelegateID, &d.RoleID, &reason, &status, &d.ExpiresAt, &decidedBy, &decidedAt, &d.CreatedAt); err != nil {
		return admin.Delegation{}, err
	}
	d.Reason = reason.String
	d.Status = admin.DelegationStatus(status)
	d.DecidedBy = decidedBy.String
	d.DecidedAt = timePtr(decidedAt)
	return d, nil
}

func (s *Store) CreateDelegation(ctx context.Context, d admin.Delegation) (admin.Delegation, error) {
	if s.db == nil {
		return admin.Delegation{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into role_delegations (id, delegator_id, delegate_id, role_id, reason, status, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning `+delegationColumns,
		d.ID, d.DelegatorID, d.DelegateID, d.RoleID, nullIfEmpty(d.Reason), string(d.Status), d.ExpiresAt, d.CreatedAt)
	created, err := scanDelegation(row)
	if err != nil {
		return admin.Delegation{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) GetDelegation(ctx context.Context, id string) (admin.Delegation, error) {
	if s.db == nil {
		return admin.Delegation{}, errNoDB
	}
	d, err := scanDelegation(s.db.QueryRowContext(ctx, `select `+delegationColumns+` from role_delegations where id = $1`, id))
	if err != nil {
		return admin.Delegation{}, notFound(err)
	}
	return d, nil
}

func (s *Store) ListDelegations(ctx context.Context, status admin.DelegationStatus) ([]admin.Delegation, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select ` + delegationColumns + ` from role_delegations order by id`
	var args []any
	if status != "" {
		query = `select ` + delegationColumns + ` from role_delegations where status = $1 order by id`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []admin.Delegation{}
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) TransitionDelegation(ctx context.Context, id string, from, to admin.DelegationStatus, decidedBy string, at time.Time) (admin.Delegation, error) {
	if s.db == nil {
		return admin.Delegation{}, errNoDB
	}
	var (
		query string
		args  = []any{id, string(from), string(to)}
	)
	switch {
	case decidedBy != "":
		query = `update role_delegations set status = $3, decided_by = $4, decided_at = $5
			where id = $1 and status = $2 returning ` + delegationColumns
		args = append(args, decidedBy, at)
	case to == admin.DelegationPending:
		query = `update role_delegations set status = $3, decided_by = null, decided_at = null
			where id = $1 and status = $2 returning ` + delegationColumns
	default:
		query = `update role_delegations set status = $3
			where id = $1 and status = $2 returning ` + delegationColumns
	}
	d, err := scanDelegation(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetDelegation(ctx, id); getErr != nil {
			return admin.Delegation{}, getErr
		}
		return admin.Delegation{}, admin.ErrInvalidState
	}
	if err != nil {
		return admin.Delegation{}, err
	}
	return d, nil
}
