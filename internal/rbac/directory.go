package rbac

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/gatekeeper/internal/security"
)

// Directory resolves principals from the RBAC store. It does not cache.
type Directory struct {
	store Store
}

// NewDirectory constructs a Directory.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Resolve loads the user and the union of permission codes across its roles.
// A missing user yields shared.ErrNotFound.
func (d *Directory) Resolve(ctx context.Context, userID int64) (*security.Principal, error) {
	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve user %d: %w", userID, err)
	}
	return d.principalOf(ctx, user)
}

// ResolveUsername is Resolve keyed by username.
func (d *Directory) ResolveUsername(ctx context.Context, username string) (*security.Principal, error) {
	user, err := d.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("rbac: resolve user %q: %w", username, err)
	}
	return d.principalOf(ctx, user)
}

func (d *Directory) principalOf(ctx context.Context, user User) (*security.Principal, error) {
	roles, err := d.store.RolesOfUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles of user %d: %w", user.ID, err)
	}
	roleIDs := make([]int64, 0, len(roles))
	roleCodes := make([]string, 0, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
		roleCodes = append(roleCodes, r.Code)
	}
	byRole, err := d.store.PermissionsOfRoles(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("rbac: permissions of user %d: %w", user.ID, err)
	}
	authorities := security.NewAuthoritySet()
	for _, perms := range byRole {
		for _, p := range perms {
			authorities[p.Code] = struct{}{}
		}
	}
	return &security.Principal{
		UserID:       user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Enabled:      user.Enabled,
		Roles:        roleCodes,
		Authorities:  authorities,
	}, nil
}

var _ security.Resolver = (*Directory)(nil)
