package admin_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"agora.city/internal/admin"
)

func TestBulkDeleteRolesSkipsSystemRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.CreateRole(ctx, "a", "")
	require.NoError(t, err)
	b, err := f.svc.CreateRole(ctx, "b", "")
	require.NoError(t, err)
	sys := f.roleByName(t, admin.RoleAdmin)

	res := f.svc.BulkDeleteRoles(ctx, []string{a.ID, sys.ID, "missing", b.ID, a.ID, ""})

	require.Equal(t, []string{a.ID, b.ID}, res.Succeeded)
	require.Equal(t, []admin.ItemError{{ID: sys.ID, Reason: "system role"}}, res.Skipped)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "missing", res.Failed[0].ID)
	require.False(t, res.Complete())

	_, err = f.svc.GetRole(ctx, sys.ID)
	require.NoError(t, err, "system role must survive a bulk delete")
	_, err = f.svc.GetRole(ctx, a.ID)
	require.ErrorIs(t, err, admin.ErrNotFound)
}

func TestBulkSetRolesActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var ids []string
	for _, name := range []string{"r1", "r2", "r3", "r4", "r5"} {
		r, err := f.svc.CreateRole(ctx, name, "")
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	viewer := f.roleByName(t, admin.RoleViewer)

	res := f.svc.BulkSetRolesActive(ctx, append(ids, viewer.ID), false)
	require.Equal(t, ids, res.Succeeded)
	require.Len(t, res.Skipped, 1)
	require.True(t, res.Complete())

	for _, id := range ids {
		r, err := f.svc.GetRole(ctx, id)
		require.NoError(t, err)
		require.False(t, r.Active)
	}
	v, err := f.svc.GetRole(ctx, viewer.ID)
	require.NoError(t, err)
	require.True(t, v.Active)
}

func TestBulkAssignRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.CreateRole(ctx, "moderator", "")
	require.NoError(t, err)
	_, err = f.svc.AssignRole(ctx, "u2", role.ID, "root", nil)
	require.NoError(t, err)

	res, err := f.svc.BulkAssignRole(ctx, []string{"u1", "u2", "u3"}, role.ID, "root", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u3"}, res.Succeeded)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "u2", res.Failed[0].ID)

	_, err = f.svc.BulkAssignRole(ctx, []string{"u9"}, f.roleByName(t, admin.RoleAdmin).ID, "root", nil)
	require.ErrorIs(t, err, admin.ErrSystemRole)
	_, err = f.svc.BulkAssignRole(ctx, []string{"u9"}, "missing", "root", nil)
	require.ErrorIs(t, err, admin.ErrNotFound)
}

func TestBulkCancelledContextFailsItems(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.CreateRole(context.Background(), "a", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.svc.BulkSetRolesActive(ctx, []string{a.ID}, false)
	require.Empty(t, res.Succeeded)
	require.Len(t, res.Failed, 1)
}
