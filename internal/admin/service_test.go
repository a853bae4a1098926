package admin_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agora.city/internal/admin"
	"agora.city/internal/events"
	"agora.city/internal/kv"
	"agora.city/internal/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	svc    *admin.Service
	store  *memory.Store
	clock  *clock
	events *recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := memory.New()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	require.NoError(t, admin.Bootstrap(context.Background(), st, clk.Now()))
	svc, err := admin.NewService(st, kv.NewMemory(), admin.WithClock(clk.Now), admin.WithPublisher(rec), admin.WithBatchConcurrency(3))
	require.NoError(t, err)
	return fixture{svc: svc, store: st, clock: clk, events: rec}
}

func (f fixture) roleByName(t *testing.T, name string) admin.Role {
	t.Helper()
	roles, err := f.svc.ListRoles(context.Background())
	require.NoError(t, err)
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("role %s not found", name)
	return admin.Role{}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, admin.Bootstrap(ctx, f.store, f.clock.Now()))

	roles, err := f.svc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	for _, r := range roles {
		require.True(t, r.System)
	}
	perms, err := f.svc.ListPermissions(ctx)
	require.NoError(t, err)
	require.Len(t, perms, len(admin.BuiltinPermissions()))

	viewerPerms, err := f.svc.RolePermissions(ctx, f.roleByName(t, admin.RoleViewer).ID)
	require.NoError(t, err)
	require.Len(t, viewerPerms, 2)
}

// staleList answers the first ListPermissions call with an empty catalogue, as
// when another bootstrap inserts the codes right after this one looked.
type staleList struct {
	*memory.Store
	calls int
}

func (s *staleList) ListPermissions(ctx context.Context) ([]admin.Permission, error) {
	s.calls++
	if s.calls == 1 {
		return nil, nil
	}
	return s.Store.ListPermissions(ctx)
}

func TestBootstrapLinksViewerAfterConcurrentSeed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := memory.New()
	for i, bp := range admin.BuiltinPermissions() {
		_, err := st.CreatePermission(ctx, admin.Permission{
			ID: fmt.Sprintf("p-%d", i), Code: bp.Code, Category: bp.Category, Active: true, CreatedAt: now,
		})
		require.NoError(t, err)
	}

	require.NoError(t, admin.Bootstrap(ctx, &staleList{Store: st}, now))

	roles, err := st.ListRoles(ctx)
	require.NoError(t, err)
	var viewerID string
	for _, r := range roles {
		if r.Name == admin.RoleViewer {
			viewerID = r.ID
		}
	}
	require.NotEmpty(t, viewerID)
	linked, err := st.RolePermissions(ctx, viewerID)
	require.NoError(t, err)
	codes := make([]string, 0, len(linked))
	for _, p := range linked {
		codes = append(codes, p.Code)
	}
	require.ElementsMatch(t, []string{admin.PermRolesView, admin.PermAnalyticsView}, codes)
}

func TestRoleLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRole(ctx, "  ", "")
	require.ErrorIs(t, err, admin.ErrInvalidInput)

	role, err := f.svc.CreateRole(ctx, " editor ", " Edits challenges ")
	require.NoError(t, err)
	require.Equal(t, "editor", role.Name)
	require.Equal(t, "Edits challenges", role.Description)
	require.True(t, role.Active)
	require.False(t, role.System)

	_, err = f.svc.CreateRole(ctx, "Editor", "")
	require.ErrorIs(t, err, admin.ErrConflict)

	inactive := false
	updated, err := f.svc.UpdateRole(ctx, role.ID, admin.RoleUpdate{Active: &inactive})
	require.NoError(t, err)
	require.False(t, updated.Active)

	require.NoError(t, f.svc.DeleteRole(ctx, role.ID))
	_, err = f.svc.GetRole(ctx, role.ID)
	require.ErrorIs(t, err, admin.ErrNotFound)

	require.Equal(t, []string{events.KindRoleCreated, events.KindRoleUpdated, events.KindRoleDeleted}, f.events.kinds())
}

func TestSystemRoleProtection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	adminRole := f.roleByName(t, admin.RoleAdmin)

	require.ErrorIs(t, f.svc.DeleteRole(ctx, adminRole.ID), admin.ErrSystemRole)

	renamed := "superuser"
	_, err := f.svc.UpdateRole(ctx, adminRole.ID, admin.RoleUpdate{Name: &renamed})
	require.ErrorIs(t, err, admin.ErrSystemRole)

	off := false
	_, err = f.svc.UpdateRole(ctx, adminRole.ID, admin.RoleUpdate{Active: &off})
	require.ErrorIs(t, err, admin.ErrSystemRole)

	desc := "Owners"
	updated, err := f.svc.UpdateRole(ctx, adminRole.ID, admin.RoleUpdate{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, "Owners", updated.Description)
}

func TestPermissionCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, bad := range []string{"", "1abc", "has space", "dash-code", "_x"} {
		_, err := f.svc.CreatePermission(ctx, bad, "", "")
		require.ErrorIs(t, err, admin.ErrInvalidInput, "code %q", bad)
	}
	perm, err := f.svc.CreatePermission(ctx, " Challenge_Edit ", "Edit challenges", "Challenges")
	require.NoError(t, err)
	require.Equal(t, "challenge_edit", perm.Code)
	require.Equal(t, "challenges", perm.Category)

	_, err = f.svc.CreatePermission(ctx, "challenge_edit", "", "")
	require.ErrorIs(t, err, admin.ErrConflict)
}

func TestRolePermissionLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.CreateRole(ctx, "editor", "")
	require.NoError(t, err)
	edit, err := f.svc.CreatePermission(ctx, "challenge_edit", "", "")
	require.NoError(t, err)
	create, err := f.svc.CreatePermission(ctx, "challenge_create", "", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.SetRolePermissions(ctx, role.ID, []string{edit.ID, edit.ID, " ", create.ID}))
	perms, err := f.svc.RolePermissions(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, perms, 2)

	require.NoError(t, f.svc.RevokePermission(ctx, role.ID, edit.ID))
	require.ErrorIs(t, f.svc.RevokePermission(ctx, role.ID, edit.ID), admin.ErrNotFound)
	require.NoError(t, f.svc.GrantPermission(ctx, role.ID, edit.ID))
	require.ErrorIs(t, f.svc.GrantPermission(ctx, role.ID, "missing"), admin.ErrNotFound)

	require.ErrorIs(t, f.svc.SetRolePermissions(ctx, role.ID, []string{"missing"}), admin.ErrNotFound)
}

func TestAssignments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	role, err := f.svc.CreateRole(ctx, "reviewer", "")
	require.NoError(t, err)

	_, err = f.svc.AssignRole(ctx, "", role.ID, "root", nil)
	require.ErrorIs(t, err, admin.ErrInvalidInput)

	past := f.clock.Now().Add(-time.Minute)
	_, err = f.svc.AssignRole(ctx, "u1", role.ID, "root", &past)
	require.ErrorIs(t, err, admin.ErrInvalidInput)

	soon := f.clock.Now().Add(time.Hour)
	_, err = f.svc.AssignRole(ctx, "u1", role.ID, "root", &soon)
	require.NoError(t, err)
	_, err = f.svc.AssignRole(ctx, "u1", role.ID, "root", nil)
	require.ErrorIs(t, err, admin.ErrConflict)

	members, err := f.svc.ListRoleMembers(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)

	f.clock.Advance(2 * time.Hour)
	current, err := f.svc.ListAssignments(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, current)

	// an expired assignment can be replaced
	_, err = f.svc.AssignRole(ctx, "u1", role.ID, "root", nil)
	require.NoError(t, err)

	off := false
	_, err = f.svc.UpdateRole(ctx, role.ID, admin.RoleUpdate{Active: &off})
	require.NoError(t, err)
	_, err = f.svc.AssignRole(ctx, "u2", role.ID, "root", nil)
	require.ErrorIs(t, err, admin.ErrInvalidInput)

	require.NoError(t, f.svc.RemoveAssignment(ctx, "u1", role.ID))
	require.ErrorIs(t, f.svc.RemoveAssignment(ctx, "u1", role.ID), admin.ErrNotFound)
}

func TestNewServiceRequiresStores(t *testing.T) {
	_, err := admin.NewService(nil, kv.NewMemory())
	require.Error(t, err)
	_, err = admin.NewService(memory.New(), nil)
	require.Error(t, err)
}
