package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"agora.city/internal/admin"
	"agora.city/internal/kv"
)

var roleCols = []string{"id", "name", "description", "is_system", "is_active", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestCreateRole(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("insert into roles").
		WithArgs("r1", "editor", sqlmock.AnyArg(), false, true, now, now).
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow("r1", "editor", nil, false, true, now, now))

	role, err := store.CreateRole(context.Background(), admin.Role{ID: "r1", Name: "editor", Active: true, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.ID != "r1" || role.Description != "" || !role.Active {
		t.Fatalf("unexpected role %+v", role)
	}
}

func TestCreateRoleConflict(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into roles").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.CreateRole(context.Background(), admin.Role{ID: "r1", Name: "editor"})
	if !errors.Is(err, admin.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetRoleNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("select .* from roles where id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := store.GetRole(context.Background(), "missing"); !errors.Is(err, admin.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoleBuildsSetClause(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	active := false
	desc := ""

	mock.ExpectQuery(`update roles set description = \$1, is_active = \$2, updated_at = \$3 where id = \$4`).
		WithArgs(sql.NullString{}, false, now, "r1").
		WillReturnRows(sqlmock.NewRows(roleCols).AddRow("r1", "editor", nil, false, false, now, now))

	role, err := store.UpdateRole(context.Background(), "r1", admin.RoleUpdate{Description: &desc, Active: &active}, now)
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if role.Active {
		t.Fatal("expected inactive role")
	}
}

func TestDeleteRoleNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("delete from roles").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteRole(context.Background(), "r1"); !errors.Is(err, admin.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetRolePermissions(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from roles").WithArgs("r1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("delete from role_permissions").WithArgs("r1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p1").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into role_permissions").WithArgs("r1", "p2").WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	err := store.SetRolePermissions(context.Background(), "r1", []string{"p1", "p2"})
	if !errors.Is(err, admin.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown permission, got %v", err)
	}
}

func TestAssignRoleConflictWhenActive(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into user_role_assignments").WillReturnError(sql.ErrNoRows)

	_, err := store.AssignRole(context.Background(), admin.UserRoleAssignment{UserID: "u1", RoleID: "r1", CreatedAt: time.Now()})
	if !errors.Is(err, admin.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAssignRoleWithExpiry(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	until := now.Add(time.Hour)
	mock.ExpectQuery("insert into user_role_assignments").
		WithArgs("u1", "r1", sqlmock.AnyArg(), sqlmock.AnyArg(), now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "role_id", "assigned_by", "expires_at", "created_at"}).
			AddRow("u1", "r1", "root", until, now))

	a, err := store.AssignRole(context.Background(), admin.UserRoleAssignment{UserID: "u1", RoleID: "r1", AssignedBy: "root", ExpiresAt: &until, CreatedAt: now})
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if a.ExpiresAt == nil || !a.ExpiresAt.Equal(until) || a.AssignedBy != "root" {
		t.Fatalf("unexpected assignment %+v", a)
	}
}

func TestRemoveExpiringAssignmentMatchesExpiry(t *testing.T) {
	store, mock := newMock(t)
	until := time.Now().UTC().Add(time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("delete from user_role_assignments where user_id = $1 and role_id = $2 and expires_at = $3")).
		WithArgs("u1", "r1", until).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RemoveExpiringAssignment(context.Background(), "u1", "r1", until); err != nil {
		t.Fatalf("a replaced assignment is not an error, got %v", err)
	}
}

func TestTransitionDelegationInvalidState(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	cols := []string{"id", "delegator_id", "delegate_id", "role_id", "reason", "status", "expires_at", "decided_by", "decided_at", "created_at"}

	mock.ExpectQuery("update role_delegations set status").
		WithArgs("d1", "pending", "approved", "carol", now).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select .* from role_delegations where id").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("d1", "alice", "bob", "r1", nil, "rejected", now, "carol", now, now))

	_, err := store.TransitionDelegation(context.Background(), "d1", admin.DelegationPending, admin.DelegationApproved, "carol", now)
	if !errors.Is(err, admin.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestConfigStore(t *testing.T) {
	store, mock := newMock(t)
	cfg := store.Config()
	ctx := context.Background()

	mock.ExpectQuery("select value from system_config").WithArgs("permission_template:x").WillReturnError(sql.ErrNoRows)
	if _, err := cfg.Get(ctx, "permission_template:x"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected kv.ErrNotFound, got %v", err)
	}

	mock.ExpectExec("insert into system_config").WithArgs("field_security:Challenge", []byte(`[]`)).WillReturnResult(sqlmock.NewResult(1, 1))
	if err := cfg.Put(ctx, "field_security:Challenge", []byte(`[]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	mock.ExpectQuery("select key, value from system_config").
		WithArgs(`permission\_template:%`).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("permission_template:a", []byte(`{}`)))
	entries, err := cfg.List(ctx, "permission_template:")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %v", entries)
	}

	mock.ExpectExec("delete from system_config").WithArgs("gone").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := cfg.Delete(ctx, "gone"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected kv.ErrNotFound, got %v", err)
	}
}
