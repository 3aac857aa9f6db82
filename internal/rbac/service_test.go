package rbac_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/internal/rbac/rbactest"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

type fixture struct {
	store   *rbactest.MemoryStore
	service *rbac.Service
	read    rbac.Permission
	write   rbac.Permission
	audit   rbac.Permission
	general rbac.Role
	admin   rbac.Role
	auditor rbac.Role
	alice   rbac.User
	bob     rbac.User
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := rbactest.NewMemoryStore()
	f := fixture{
		store:   store,
		service: rbac.NewService(store),
		read:    store.AddPermission(shared.PermReadUserRolePermission, "Read"),
		write:   store.AddPermission(shared.PermWriteUserRolePermission, "Write"),
		audit:   store.AddPermission("READ_AUDIT", "Audit"),
		general: store.AddRole(shared.RoleGeneral, "General user"),
		admin:   store.AddRole(shared.RoleAdmin, "Administrator"),
		auditor: store.AddRole("AUDITOR", "Auditor"),
		alice:   store.AddUser("alice", "hash-a"),
		bob:     store.AddUser("bob", "hash-b"),
	}
	ctx := context.Background()
	require.NoError(t, f.service.BindPermissionsToRole(ctx, f.admin.ID, []int64{f.read.ID, f.write.ID}))
	require.NoError(t, f.service.BindPermissionsToRole(ctx, f.auditor.ID, []int64{f.read.ID, f.audit.ID}))
	return f
}

func TestBindRolesEmptyListClearsBindings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.general.ID}))
	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{}))

	page, err := f.service.PageQueryRoles(ctx, rbac.RoleQuery{UserID: f.alice.ID}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.Empty(t, page.Data)
	assert.Empty(t, f.store.UserRoleIDs(f.alice.ID))
}

func TestBindRolesUnknownIDLeavesBindingsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.general.ID}))

	err := f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.admin.ID, 9999})
	require.ErrorIs(t, err, shared.ErrUnresolvedBinding)
	assert.Contains(t, err.Error(), "9999")

	assert.Equal(t, []int64{f.general.ID}, f.store.UserRoleIDs(f.alice.ID))
}

func TestBindRolesIsFullReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.general.ID, f.admin.ID}))
	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.auditor.ID, f.auditor.ID}))

	assert.Equal(t, []int64{f.auditor.ID}, f.store.UserRoleIDs(f.alice.ID))
	assert.Empty(t, f.store.UserRoleIDs(f.bob.ID))
}

func TestBindRolesUnknownUser(t *testing.T) {
	f := newFixture(t)
	err := f.service.BindRolesToUser(context.Background(), 4242, []int64{f.general.ID})
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBindPermissionsToRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.service.BindPermissionsToRole(ctx, f.admin.ID, []int64{f.read.ID, 777})
	require.ErrorIs(t, err, shared.ErrUnresolvedBinding)
	assert.Equal(t, []int64{f.read.ID, f.write.ID}, f.store.RolePermissionIDs(f.admin.ID))

	require.NoError(t, f.service.BindPermissionsToRole(ctx, f.admin.ID, []int64{f.audit.ID}))
	assert.Equal(t, []int64{f.audit.ID}, f.store.RolePermissionIDs(f.admin.ID))

	require.NoError(t, f.service.BindPermissionsToRole(ctx, f.admin.ID, nil))
	assert.Empty(t, f.store.RolePermissionIDs(f.admin.ID))

	assert.ErrorIs(t, f.service.BindPermissionsToRole(ctx, 4242, nil), shared.ErrNotFound)
}

func TestBindDefaultRolesToUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.BindDefaultRolesToUser(ctx, f.bob.ID, []string{shared.RoleGeneral}))
	assert.Equal(t, []int64{f.general.ID}, f.store.UserRoleIDs(f.bob.ID))

	err := f.service.BindDefaultRolesToUser(ctx, f.bob.ID, []string{"NOPE"})
	require.ErrorIs(t, err, shared.ErrUnresolvedBinding)
	assert.Equal(t, []int64{f.general.ID}, f.store.UserRoleIDs(f.bob.ID))
}

func TestRegisterUserRollsBackOnUnknownRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.RegisterUser(ctx, "carol", "hash", []string{"MISSING"})
	require.ErrorIs(t, err, shared.ErrUnresolvedBinding)
	taken, err := f.service.UsernameTaken(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, taken)

	user, err := f.service.RegisterUser(ctx, "carol", "hash", []string{shared.RoleGeneral})
	require.NoError(t, err)
	assert.True(t, user.Enabled)
	assert.Equal(t, []int64{f.general.ID}, f.store.UserRoleIDs(user.ID))

	_, err = f.service.RegisterUser(ctx, "carol", "hash", []string{shared.RoleGeneral})
	assert.ErrorIs(t, err, shared.ErrDuplicateUsername)
}

func TestGetRoleWithoutPermissions(t *testing.T) {
	f := newFixture(t)

	role, err := f.service.GetRoleWithPermissions(context.Background(), f.general.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.RoleGeneral, role.Code)
	assert.NotNil(t, role.Permissions)
	assert.Empty(t, role.Permissions)

	_, err = f.service.GetRoleWithPermissions(context.Background(), 4242)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetUserWithRolesNestedTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.general.ID, f.admin.ID}))

	user, err := f.service.GetUserWithRoles(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, user.Roles, 2)
	assert.Equal(t, shared.RoleGeneral, user.Roles[0].Code)
	assert.Empty(t, user.Roles[0].Permissions)
	assert.NotNil(t, user.Roles[0].Permissions)
	assert.Len(t, user.Roles[1].Permissions, 2)
}

func TestPageQueryUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.AddUser("alicia", "h")
	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.admin.ID}))

	page, err := f.service.PageQueryUsers(ctx, rbac.UserQuery{Username: "ali"}, shared.PageRequest{
		Size: 1,
		Sort: []shared.SortField{{Field: "username", Desc: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "alicia", page.Data[0].Username)

	page, err = f.service.PageQueryUsers(ctx, rbac.UserQuery{Username: "ali"}, shared.PageRequest{Offset: 1, Size: 1, Sort: []shared.SortField{{Field: "username", Desc: true}}})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "alice", page.Data[0].Username)
	require.Len(t, page.Data[0].Roles, 1)
	assert.Equal(t, shared.RoleAdmin, page.Data[0].Roles[0].Code)

	page, err = f.service.PageQueryUsers(ctx, rbac.UserQuery{IDs: []int64{f.bob.ID}}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Empty(t, page.Data[0].Roles)

	_, err = f.service.PageQueryUsers(ctx, rbac.UserQuery{}, shared.PageRequest{Sort: []shared.SortField{{Field: "password"}}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestPageQueryUsersSurfacesStoreFaults(t *testing.T) {
	f := newFixture(t)
	f.store.FailNext = assert.AnError

	_, err := f.service.PageQueryUsers(context.Background(), rbac.UserQuery{}, shared.PageRequest{})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestPageQueryRolesByUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.BindRolesToUser(ctx, f.alice.ID, []int64{f.admin.ID, f.auditor.ID}))

	page, err := f.service.PageQueryRoles(ctx, rbac.RoleQuery{UserID: f.alice.ID}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Data[0].Permissions, 2)

	page, err = f.service.PageQueryRoles(ctx, rbac.RoleQuery{UserID: f.alice.ID, IDs: []int64{f.auditor.ID, f.general.ID}}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "AUDITOR", page.Data[0].Code)

	page, err = f.service.PageQueryRoles(ctx, rbac.RoleQuery{UserID: f.bob.ID}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
	assert.NotNil(t, page.Data)

	page, err = f.service.PageQueryRoles(ctx, rbac.RoleQuery{Code: shared.RoleAdmin}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, f.admin.ID, page.Data[0].ID)
}

func TestPageQueryPermissionsByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page, err := f.service.PageQueryPermissions(ctx, rbac.PermissionQuery{RoleID: f.auditor.ID}, shared.PageRequest{Sort: []shared.SortField{{Field: "code"}}})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, "READ_AUDIT", page.Data[0].Code)
	assert.Equal(t, shared.PermReadUserRolePermission, page.Data[1].Code)

	page, err = f.service.PageQueryPermissions(ctx, rbac.PermissionQuery{RoleID: f.general.ID}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	page, err = f.service.PageQueryPermissions(ctx, rbac.PermissionQuery{Name: "wri"}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, f.write.ID, page.Data[0].ID)
}

func TestSeedIsIdempotent(t *testing.T) {
	store := rbactest.NewMemoryStore()
	service := rbac.NewService(store)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := service.Seed(ctx, rbac.DefaultCatalog())
		require.NoError(t, err)
		assert.Equal(t, rbac.SeedResult{Permissions: 2, Roles: 2}, result)
	}

	perms, err := service.PageQueryPermissions(ctx, rbac.PermissionQuery{}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, perms.Total)

	roles, err := service.PageQueryRoles(ctx, rbac.RoleQuery{Code: shared.RoleAdmin}, shared.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, roles.Total)
	assert.Len(t, roles.Data[0].Permissions, 2)
}

func TestSeedRejectsInvalidCatalog(t *testing.T) {
	service := rbac.NewService(rbactest.NewMemoryStore())
	_, err := service.Seed(context.Background(), rbac.Catalog{
		Roles: []rbac.CatalogRole{{Code: "X", Permissions: []string{"UNKNOWN"}}},
	})
	assert.ErrorIs(t, err, shared.ErrUnresolvedBinding)
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := rbac.LoadCatalog(strings.NewReader(`
permissions:
  - code: READ_REPORT
    name: Read reports
roles:
  - code: ANALYST
    name: Analyst
    permissions: [READ_REPORT]
`))
	require.NoError(t, err)
	require.NoError(t, catalog.Validate())
	assert.Equal(t, "ANALYST", catalog.Roles[0].Code)
	assert.Equal(t, []string{"READ_REPORT"}, catalog.Roles[0].Permissions)

	_, err = rbac.LoadCatalog(strings.NewReader("roles:\n  - code: A\n    colour: red\n"))
	assert.Error(t, err)
}

func TestAdminUserOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SetUserEnabled(ctx, "bob", false))
	user, err := f.service.FindUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, user.Enabled)

	require.NoError(t, f.service.DeleteUser(ctx, "bob"))
	_, err = f.service.FindUserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, f.service.DeleteUser(ctx, "bob"), shared.ErrNotFound)
}
