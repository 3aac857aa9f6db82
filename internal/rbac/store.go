package rbac

import (
	"context"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Store is the read side of the RBAC persistence plus the transaction entry
// point for mutations.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error

	GetUser(ctx context.Context, id int64) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context, q UserQuery, page shared.PageRequest) ([]User, int, error)
	ListRoles(ctx context.Context, q RoleQuery, page shared.PageRequest) ([]Role, int, error)
	ListPermissions(ctx context.Context, q PermissionQuery, page shared.PageRequest) ([]Permission, int, error)
	GetRoleWithPermissions(ctx context.Context, id int64) (RoleWithPermissions, error)
	RolesOfUser(ctx context.Context, userID int64) ([]Role, error)
	PermissionsOfRoles(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error)

	SetUserEnabled(ctx context.Context, username string, enabled bool) error
	DeleteUserByUsername(ctx context.Context, username string) error
}

// TxStore exposes the operations that run inside one transaction.
type TxStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	LockUser(ctx context.Context, id int64) error
	LockRole(ctx context.Context, id int64) error
	ExistingRoleIDs(ctx context.Context, ids []int64) ([]int64, error)
	ExistingPermissionIDs(ctx context.Context, ids []int64) ([]int64, error)
	RolesByCodes(ctx context.Context, codes []string) ([]Role, error)

	DeleteUserRoles(ctx context.Context, userID int64) error
	InsertUserRoles(ctx context.Context, userID int64, roleIDs []int64) error
	DeleteRolePermissions(ctx context.Context, roleID int64) error
	InsertRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	UpsertRole(ctx context.Context, code, name string) (Role, error)
	UpsertPermission(ctx context.Context, code, name string) (Permission, error)
}
