package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// treeLoadConcurrency bounds parallel nested loads within one page query.
const treeLoadConcurrency = 4

// Service orchestrates RBAC queries and full-replace bindings.
type Service struct {
	store Store
}

// NewService constructs a Service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// PageQueryUsers returns a page of users, each with its role and permission tree.
func (s *Service) PageQueryUsers(ctx context.Context, q UserQuery, page shared.PageRequest) (shared.Page[UserWithRoles], error) {
	page = page.Normalize()
	users, total, err := s.store.ListUsers(ctx, q, page)
	if err != nil {
		return shared.Page[UserWithRoles]{}, err
	}
	if len(users) == 0 {
		return shared.Page[UserWithRoles]{Total: total, Data: []UserWithRoles{}}, nil
	}

	out := make([]UserWithRoles, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(treeLoadConcurrency)
	for i := range users {
		g.Go(func() error {
			roles, err := s.roleTree(gctx, users[i].ID)
			if err != nil {
				return err
			}
			out[i] = UserWithRoles{User: users[i], Roles: roles}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return shared.Page[UserWithRoles]{}, err
	}
	return shared.Page[UserWithRoles]{Total: total, Data: out}, nil
}

// GetUserWithRoles fetches one user with its nested role and permission tree.
func (s *Service) GetUserWithRoles(ctx context.Context, userID int64) (UserWithRoles, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return UserWithRoles{}, err
	}
	roles, err := s.roleTree(ctx, userID)
	if err != nil {
		return UserWithRoles{}, err
	}
	return UserWithRoles{User: user, Roles: roles}, nil
}

// PageQueryRoles returns a page of roles with their permissions. A UserID
// filter restricts the page to that user's roles.
func (s *Service) PageQueryRoles(ctx context.Context, q RoleQuery, page shared.PageRequest) (shared.Page[RoleWithPermissions], error) {
	page = page.Normalize()
	if q.UserID != 0 {
		roles, err := s.store.RolesOfUser(ctx, q.UserID)
		if err != nil {
			return shared.Page[RoleWithPermissions]{}, err
		}
		ids := make([]int64, 0, len(roles))
		for _, r := range roles {
			ids = append(ids, r.ID)
		}
		q.IDs = restrictIDs(q.IDs, ids)
		if len(q.IDs) == 0 {
			return shared.EmptyPage[RoleWithPermissions](), nil
		}
	}

	roles, total, err := s.store.ListRoles(ctx, q, page)
	if err != nil {
		return shared.Page[RoleWithPermissions]{}, err
	}
	withPerms, err := s.attachPermissions(ctx, roles)
	if err != nil {
		return shared.Page[RoleWithPermissions]{}, err
	}
	return shared.Page[RoleWithPermissions]{Total: total, Data: withPerms}, nil
}

// GetRoleWithPermissions fetches one role. A role without permissions yields
// an empty permission list.
func (s *Service) GetRoleWithPermissions(ctx context.Context, roleID int64) (RoleWithPermissions, error) {
	role, err := s.store.GetRoleWithPermissions(ctx, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	if role.Permissions == nil {
		role.Permissions = []Permission{}
	}
	return role, nil
}

// PageQueryPermissions returns a page of permissions. A RoleID filter
// restricts the page to that role's permissions.
func (s *Service) PageQueryPermissions(ctx context.Context, q PermissionQuery, page shared.PageRequest) (shared.Page[Permission], error) {
	page = page.Normalize()
	if q.RoleID != 0 {
		byRole, err := s.store.PermissionsOfRoles(ctx, []int64{q.RoleID})
		if err != nil {
			return shared.Page[Permission]{}, err
		}
		ids := make([]int64, 0, len(byRole[q.RoleID]))
		for _, p := range byRole[q.RoleID] {
			ids = append(ids, p.ID)
		}
		q.IDs = restrictIDs(q.IDs, ids)
		if len(q.IDs) == 0 {
			return shared.EmptyPage[Permission](), nil
		}
	}

	perms, total, err := s.store.ListPermissions(ctx, q, page)
	if err != nil {
		return shared.Page[Permission]{}, err
	}
	return shared.Page[Permission]{Total: total, Data: perms}, nil
}

// BindRolesToUser replaces the user's roles with roleIDs in one transaction.
// An empty list clears the bindings. If any id is unknown nothing changes and
// the error wraps shared.ErrUnresolvedBinding.
func (s *Service) BindRolesToUser(ctx context.Context, userID int64, roleIDs []int64) error {
	ids := uniqueIDs(roleIDs)
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return bindRoles(ctx, tx, userID, ids)
	})
}

// BindPermissionsToRole replaces the role's permissions with permissionIDs in
// one transaction, with the same rules as BindRolesToUser.
func (s *Service) BindPermissionsToRole(ctx context.Context, roleID int64, permissionIDs []int64) error {
	ids := uniqueIDs(permissionIDs)
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return bindPermissions(ctx, tx, roleID, ids)
	})
}

// BindDefaultRolesToUser resolves role codes and replaces the user's roles
// with them. Unknown codes wrap shared.ErrUnresolvedBinding.
func (s *Service) BindDefaultRolesToUser(ctx context.Context, userID int64, roleCodes []string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return bindRoleCodes(ctx, tx, userID, roleCodes)
	})
}

// RegisterUser creates a user and binds roleCodes in one transaction.
func (s *Service) RegisterUser(ctx context.Context, username, passwordHash string, roleCodes []string) (User, error) {
	var created User
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		user, err := tx.CreateUser(ctx, username, passwordHash)
		if err != nil {
			return err
		}
		if err := bindRoleCodes(ctx, tx, user.ID, roleCodes); err != nil {
			return err
		}
		created = user
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return created, nil
}

// FindUserByUsername fetches a user by exact username.
func (s *Service) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return s.store.FindUserByUsername(ctx, username)
}

// UsernameTaken reports whether username is already registered.
func (s *Service) UsernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := s.store.FindUserByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SetUserEnabled toggles the enabled flag of the named user.
func (s *Service) SetUserEnabled(ctx context.Context, username string, enabled bool) error {
	return s.store.SetUserEnabled(ctx, username, enabled)
}

// DeleteUser removes the named user together with its role bindings.
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	return s.store.DeleteUserByUsername(ctx, username)
}

// SeedResult summarises a Seed run.
type SeedResult struct {
	Permissions int
	Roles       int
}

// Seed upserts the catalog's permissions and roles and full-replace binds
// each role's permissions, in one transaction.
func (s *Service) Seed(ctx context.Context, catalog Catalog) (SeedResult, error) {
	if err := catalog.Validate(); err != nil {
		return SeedResult{}, err
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		permIDs := make(map[string]int64, len(catalog.Permissions))
		for _, p := range catalog.Permissions {
			perm, err := tx.UpsertPermission(ctx, p.Code, p.Name)
			if err != nil {
				return err
			}
			permIDs[perm.Code] = perm.ID
		}
		for _, r := range catalog.Roles {
			role, err := tx.UpsertRole(ctx, r.Code, r.Name)
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(r.Permissions))
			for _, code := range r.Permissions {
				ids = append(ids, permIDs[code])
			}
			if err := bindPermissions(ctx, tx, role.ID, uniqueIDs(ids)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	return SeedResult{Permissions: len(catalog.Permissions), Roles: len(catalog.Roles)}, nil
}

func (s *Service) roleTree(ctx context.Context, userID int64) ([]RoleWithPermissions, error) {
	roles, err := s.store.RolesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.attachPermissions(ctx, roles)
}

func (s *Service) attachPermissions(ctx context.Context, roles []Role) ([]RoleWithPermissions, error) {
	out := make([]RoleWithPermissions, 0, len(roles))
	if len(roles) == 0 {
		return out, nil
	}
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	byRole, err := s.store.PermissionsOfRoles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		perms := byRole[r.ID]
		if perms == nil {
			perms = []Permission{}
		}
		out = append(out, RoleWithPermissions{Role: r, Permissions: perms})
	}
	return out, nil
}

func bindRoles(ctx context.Context, tx TxStore, userID int64, roleIDs []int64) error {
	if err := tx.LockUser(ctx, userID); err != nil {
		return fmt.Errorf("rbac: bind roles to user %d: %w", userID, err)
	}
	if err := tx.DeleteUserRoles(ctx, userID); err != nil {
		return err
	}
	if len(roleIDs) == 0 {
		return nil
	}
	found, err := tx.ExistingRoleIDs(ctx, roleIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(roleIDs, found); len(missing) > 0 {
		return fmt.Errorf("%w: roles %v", shared.ErrUnresolvedBinding, missing)
	}
	return tx.InsertUserRoles(ctx, userID, roleIDs)
}

func bindPermissions(ctx context.Context, tx TxStore, roleID int64, permissionIDs []int64) error {
	if err := tx.LockRole(ctx, roleID); err != nil {
		return fmt.Errorf("rbac: bind permissions to role %d: %w", roleID, err)
	}
	if err := tx.DeleteRolePermissions(ctx, roleID); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	found, err := tx.ExistingPermissionIDs(ctx, permissionIDs)
	if err != nil {
		return err
	}
	if missing := missingIDs(permissionIDs, found); len(missing) > 0 {
		return fmt.Errorf("%w: permissions %v", shared.ErrUnresolvedBinding, missing)
	}
	return tx.InsertRolePermissions(ctx, roleID, permissionIDs)
}

func bindRoleCodes(ctx context.Context, tx TxStore, userID int64, codes []string) error {
	codes = uniqueStrings(codes)
	roles, err := tx.RolesByCodes(ctx, codes)
	if err != nil {
		return err
	}
	known := make(map[string]int64, len(roles))
	for _, r := range roles {
		known[r.Code] = r.ID
	}
	ids := make([]int64, 0, len(codes))
	var missing []string
	for _, code := range codes {
		id, ok := known[code]
		if !ok {
			missing = append(missing, code)
			continue
		}
		ids = append(ids, id)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: role codes %v", shared.ErrUnresolvedBinding, missing)
	}
	return bindRoles(ctx, tx, userID, ids)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func missingIDs(want, found []int64) []int64 {
	have := make(map[int64]struct{}, len(found))
	for _, id := range found {
		have[id] = struct{}{}
	}
	var missing []int64
	for _, id := range want {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// restrictIDs intersects requested with allowed. An empty request means allowed.
func restrictIDs(requested, allowed []int64) []int64 {
	if len(requested) == 0 {
		return allowed
	}
	ok := make(map[int64]struct{}, len(allowed))
	for _, id := range allowed {
		ok[id] = struct{}{}
	}
	out := make([]int64, 0, len(requested))
	for _, id := range requested {
		if _, hit := ok[id]; hit {
			out = append(out, id)
		}
	}
	return out
}
