package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidesk/unidesk/internal/audit"
	"github.com/unidesk/unidesk/internal/shared"
)

var fixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	svc := NewService(store, nil)
	svc.now = func() time.Time { return fixedNow }
	return svc, store
}

func admin(id int64) *shared.Actor {
	return &shared.Actor{ID: id, Kind: shared.ActorAdmin}
}

func TestParsePermissionKey(t *testing.T) {
	key, err := ParsePermissionKey("users.manage_roles")
	require.NoError(t, err)
	assert.Equal(t, PermUsersManageRoles, key)
	assert.Equal(t, "users.manage_roles", key.String())

	for _, raw := range []string{"", "users", "users.", ".view", "a.b.c", "users .view", "users. view"} {
		_, err := ParsePermissionKey(raw)
		assert.ErrorIs(t, err, shared.ErrInvalid, raw)
	}
}

func TestSuperAdminHasEveryPermission(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 1, IsSuperAdmin: true})

	assert.True(t, svc.HasPermission(context.Background(), 1, Key("anything", "goes")))
	assert.True(t, svc.HasPermission(context.Background(), 1, PermUsersManageRoles))
	assert.Zero(t, store.grantCalls, "super admin must short-circuit before the grant lookup")
}

func TestHasPermissionRequiresExactMatch(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 2, Department: shared.DepartmentAcademic})
	role := store.addRole("viewer", false, PermRolesView)
	store.assign(2, role.ID, nil)

	ctx := context.Background()
	assert.True(t, svc.HasPermission(ctx, 2, PermRolesView))
	assert.False(t, svc.HasPermission(ctx, 2, Key("Roles", "view")), "matching is case-sensitive")
	assert.False(t, svc.HasPermission(ctx, 2, PermUsersManageRoles))
	assert.False(t, svc.HasPermission(ctx, 99, PermRolesView))
}

func TestExpiredOrInactiveAssignmentsGrantNothing(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 3})
	past := fixedNow.Add(-time.Hour)
	expired := store.addRole("expired_role", false, Key("reports", "export"))
	store.assign(3, expired.ID, &past)

	inactiveRole := store.addRole("inactive_role", false, Key("reports", "archive"))
	store.assign(3, inactiveRole.ID, nil)
	require.NoError(t, store.DeactivateRole(context.Background(), inactiveRole.ID))

	revoked := store.addRole("revoked_role", false, Key("reports", "share"))
	store.assign(3, revoked.ID, nil)
	require.NoError(t, store.DeactivateAssignment(context.Background(), 3, revoked.ID))

	ctx := context.Background()
	assert.False(t, svc.HasPermission(ctx, 3, Key("reports", "export")))
	assert.False(t, svc.HasPermission(ctx, 3, Key("reports", "archive")))
	assert.False(t, svc.HasPermission(ctx, 3, Key("reports", "share")))
}

func TestHasPermissionFailsClosed(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 4})
	role := store.addRole("viewer", false, PermRolesView)
	store.assign(4, role.ID, nil)

	store.failGrants = errors.New("connection reset")
	assert.False(t, svc.HasPermission(context.Background(), 4, PermRolesView))

	store.failGrants = nil
	store.failSuper = errors.New("connection reset")
	assert.False(t, svc.HasPermission(context.Background(), 4, PermRolesView))
}

// gatedGrants holds grant loads until released and honours ctx afterwards.
type gatedGrants struct {
	*memStore
	started chan struct{}
	release chan struct{}
}

func (g *gatedGrants) ListEffectiveGrants(ctx context.Context, userID int64, now time.Time) ([]Grant, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.memStore.ListEffectiveGrants(ctx, userID, now)
}

func TestSharedGrantLoadSurvivesCallerCancellation(t *testing.T) {
	store := newMemStore()
	store.addUser(AdminUser{ID: 4})
	role := store.addRole("viewer", false, PermRolesView)
	store.assign(4, role.ID, nil)
	gated := &gatedGrants{memStore: store, started: make(chan struct{}, 1), release: make(chan struct{})}
	svc := NewService(gated, nil)
	svc.now = func() time.Time { return fixedNow }

	ctx, cancel := context.WithCancel(context.Background())
	results := make([]bool, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = svc.HasPermission(ctx, 4, PermRolesView)
	}()
	<-gated.started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = svc.HasPermission(context.Background(), 4, PermRolesView)
	}()
	cancel()
	close(gated.release)
	wg.Wait()

	assert.True(t, results[0], "the load is detached from the first caller")
	assert.True(t, results[1])
}

func TestCheckMultiplePermissionsIsComplete(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 5})
	role := store.addRole("viewer", false, PermRolesView, PermUsersView)
	store.assign(5, role.ID, nil)

	result := svc.CheckMultiplePermissions(context.Background(), 5, []PermissionKey{
		PermRolesView, PermUsersManageRoles, PermUsersView, PermRequestsRespond,
	})
	assert.Equal(t, map[string]bool{
		"roles.view":         true,
		"users.manage_roles": false,
		"users.view":         true,
		"requests.respond":   false,
	}, result)
}

func TestEffectivePermissions(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 6})
	a := store.addRole("a", false, PermRolesView, PermUsersView)
	b := store.addRole("b", false, PermUsersView)
	store.assign(6, a.ID, nil)
	store.assign(6, b.ID, nil)

	set, err := svc.EffectivePermissions(context.Background(), 6)
	require.NoError(t, err)
	assert.False(t, set.Universal)
	assert.Equal(t, []string{"roles.view", "users.view"}, set.Permissions)
	assert.Equal(t, []string{"a", "b"}, set.Roles)
	assert.True(t, set.Has(PermUsersView))

	store.addUser(AdminUser{ID: 7, IsSuperAdmin: true})
	super, err := svc.EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, super.Universal)
	assert.True(t, super.Has(Key("anything", "at_all")))
}

func TestCanAccessDepartment(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 8, Department: shared.DepartmentDormitory})
	store.addUser(AdminUser{ID: 9, IsSuperAdmin: true})

	ctx := context.Background()
	assert.True(t, svc.CanAccessDepartment(ctx, 8, shared.DepartmentDormitory))
	assert.False(t, svc.CanAccessDepartment(ctx, 8, shared.DepartmentAccounting))
	assert.True(t, svc.CanAccessDepartment(ctx, 9, shared.DepartmentAccounting))
	assert.False(t, svc.CanAccessDepartment(ctx, 404, shared.DepartmentAccounting))
}

func TestAuthorizeDistinguishesUnauthenticatedFromForbidden(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 10})

	_, err := svc.Authorize(context.Background(), nil, PermRolesView)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	d, err := svc.Authorize(context.Background(), admin(10), PermRolesView)
	require.ErrorIs(t, err, shared.ErrForbidden)
	rej, ok := shared.RejectionFrom(err)
	require.True(t, ok)
	assert.Equal(t, "roles.view", rej.Fields["requiredPermission"])
	assert.False(t, d.Granted)

	student := &shared.Actor{ID: 10, Kind: shared.ActorStudent}
	_, err = svc.Authorize(context.Background(), student, PermRolesView)
	assert.ErrorIs(t, err, shared.ErrForbidden, "student IDs never resolve admin grants")
}

func TestAuthorizeRecordsPath(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 11})
	store.addUser(AdminUser{ID: 12, IsSuperAdmin: true})
	role := store.addRole("viewer", false, PermRolesView)
	store.assign(11, role.ID, nil)

	d, err := svc.Authorize(context.Background(), admin(11), PermRolesView)
	require.NoError(t, err)
	assert.Equal(t, audit.PathPermission, d.Path)
	assert.Equal(t, "roles", d.Resource)
	assert.Equal(t, "view", d.Action)
	assert.EqualValues(t, 11, d.ActorID)
	assert.Equal(t, fixedNow, d.At)

	d, err = svc.Authorize(context.Background(), admin(12), PermRolesView)
	require.NoError(t, err)
	assert.Equal(t, audit.PathSuperAdmin, d.Path)
}

func TestAuthorizeAllRequiresEveryKey(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 13})
	role := store.addRole("viewer", false, PermRolesView)
	store.assign(13, role.ID, nil)

	_, err := svc.AuthorizeAll(context.Background(), admin(13), PermRolesView, PermUsersView)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.AuthorizeAny(context.Background(), admin(13), PermUsersView, PermRolesView)
	assert.NoError(t, err)
}

func TestAuthorizeDepartment(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 14, Department: shared.DepartmentAcademic})
	role := store.addRole("responder", false, PermRequestsRespond)
	store.assign(14, role.ID, nil)

	d, err := svc.AuthorizeDepartment(context.Background(), admin(14), PermRequestsRespond, shared.DepartmentAcademic)
	require.NoError(t, err)
	assert.Equal(t, audit.PathDepartment, d.Path)

	_, err = svc.AuthorizeDepartment(context.Background(), admin(14), PermRequestsRespond, shared.DepartmentDormitory)
	require.ErrorIs(t, err, shared.ErrForbidden)
	rej, _ := shared.RejectionFrom(err)
	assert.Equal(t, "dormitory", rej.Fields["department"])
}

func TestAuthorizeOwnerOr(t *testing.T) {
	svc, store := newTestService(t)
	store.addUser(AdminUser{ID: 20})
	store.setOwner(OwnRequestByStudent, 500, 31)

	owner := &shared.Actor{ID: 31, Kind: shared.ActorStudent}
	d, err := svc.AuthorizeOwnerOr(context.Background(), owner, PermRequestsView, OwnRequestByStudent, 500)
	require.NoError(t, err)
	assert.Equal(t, audit.PathOwnership, d.Path)

	stranger := &shared.Actor{ID: 32, Kind: shared.ActorStudent}
	_, err = svc.AuthorizeOwnerOr(context.Background(), stranger, PermRequestsView, OwnRequestByStudent, 500)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.AuthorizeOwnerOr(context.Background(), owner, PermRequestsView, OwnRequestByStudent, 501)
	assert.ErrorIs(t, err, shared.ErrNotFound, "a missing row is not found even for its would-be owner")

	sameIDAdmin := admin(31)
	store.addUser(AdminUser{ID: 31})
	_, err = svc.AuthorizeOwnerOr(context.Background(), sameIDAdmin, PermRequestsView, OwnRequestByStudent, 500)
	assert.ErrorIs(t, err, shared.ErrForbidden, "admin and student IDs are separate spaces")

	role := store.addRole("viewer", false, PermRequestsView)
	store.assign(20, role.ID, nil)
	d, err = svc.AuthorizeOwnerOr(context.Background(), admin(20), PermRequestsView, OwnRequestByStudent, 500)
	require.NoError(t, err)
	assert.Equal(t, audit.PathPermission, d.Path)
}

func TestAuthorizeDepartmentOrOwner(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	store.addUser(AdminUser{ID: 14, Department: shared.DepartmentAcademic})
	store.addUser(AdminUser{ID: 15, Department: shared.DepartmentDormitory})
	role := store.addRole("viewer", false, PermRequestsView)
	store.assign(14, role.ID, nil)
	store.assign(15, role.ID, nil)
	store.setOwner(OwnRequestByStudent, 500, 31)
	store.setOwner(OwnRequestByResponder, 500, 0)
	targets := []OwnershipTarget{OwnRequestByStudent, OwnRequestByResponder}

	d, err := svc.AuthorizeDepartmentOrOwner(ctx, admin(14), PermRequestsView, shared.DepartmentAcademic, 500, targets...)
	require.NoError(t, err)
	assert.Equal(t, audit.PathDepartment, d.Path)

	d, err = svc.AuthorizeDepartmentOrOwner(ctx, admin(15), PermRequestsView, shared.DepartmentAcademic, 500, targets...)
	require.ErrorIs(t, err, shared.ErrForbidden)
	assert.False(t, d.Granted)
	rej, _ := shared.RejectionFrom(err)
	assert.Equal(t, "academic", rej.Fields["department"])

	store.setOwner(OwnRequestByResponder, 500, 15)
	d, err = svc.AuthorizeDepartmentOrOwner(ctx, admin(15), PermRequestsView, shared.DepartmentAcademic, 500, targets...)
	require.NoError(t, err)
	assert.Equal(t, audit.PathOwnership, d.Path)

	owner := &shared.Actor{ID: 31, Kind: shared.ActorStudent}
	d, err = svc.AuthorizeDepartmentOrOwner(ctx, owner, PermRequestsView, shared.DepartmentAcademic, 500, targets...)
	require.NoError(t, err)
	assert.Equal(t, audit.PathOwnership, d.Path)

	student15 := &shared.Actor{ID: 15, Kind: shared.ActorStudent}
	d, err = svc.AuthorizeDepartmentOrOwner(ctx, student15, PermRequestsView, shared.DepartmentAcademic, 500, targets...)
	assert.ErrorIs(t, err, shared.ErrForbidden, "the responder target only matches admins")
	assert.False(t, d.Granted)

	_, err = svc.AuthorizeDepartmentOrOwner(ctx, owner, PermRequestsView, shared.DepartmentAcademic, 501, targets...)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestValidateOwnershipTargets(t *testing.T) {
	require.NoError(t, ValidateOwnershipTargets())
	for _, target := range OwnershipTargets() {
		_, ok := target.spec()
		assert.True(t, ok, target.String())
	}
	_, ok := OwnershipTarget(0).spec()
	assert.False(t, ok)
}

func TestEnsureCatalogIsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureCatalog(ctx))
	require.NoError(t, svc.EnsureCatalog(ctx))

	perms, err := store.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, len(systemPermissions))
	for _, p := range perms {
		assert.True(t, p.IsSystemPermission)
	}

	manager, err := store.GetRoleByName(ctx, "role_manager")
	require.NoError(t, err)
	assert.True(t, manager.IsSystemRole)
	bound, err := store.ListRolePermissions(ctx, manager.ID)
	require.NoError(t, err)
	assert.Len(t, bound, 4)
}
