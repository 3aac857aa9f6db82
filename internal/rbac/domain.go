package rbac

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// User is an account. The password hash never leaves the process.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Role groups permissions under a stable code.
type Role struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Permission is a grantable capability. Code is the authority string.
type Permission struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// RoleWithPermissions is a role together with its permission set.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// UserWithRoles is a user with its nested role and permission tree.
type UserWithRoles struct {
	User
	Roles []RoleWithPermissions `json:"roles"`
}

// UserQuery filters user pages. Zero values impose no constraint.
type UserQuery struct {
	ID       int64
	IDs      []int64
	Username string
}

// RoleQuery filters role pages. UserID restricts to roles bound to that user.
type RoleQuery struct {
	ID     int64
	IDs    []int64
	Name   string
	Code   string
	UserID int64
}

// PermissionQuery filters permission pages. RoleID restricts to permissions
// bound to that role.
type PermissionQuery struct {
	ID     int64
	IDs    []int64
	Name   string
	Code   string
	RoleID int64
}

// CatalogPermission is a seeded permission.
type CatalogPermission struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// CatalogRole is a seeded role and the permission codes it grants.
type CatalogRole struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// Catalog describes the roles and permissions installed by Seed.
type Catalog struct {
	Permissions []CatalogPermission `yaml:"permissions"`
	Roles       []CatalogRole       `yaml:"roles"`
}

// DefaultCatalog returns the built-in role and permission set.
func DefaultCatalog() Catalog {
	return Catalog{
		Permissions: []CatalogPermission{
			{Code: shared.PermReadUserRolePermission, Name: "Read users, roles and permissions"},
			{Code: shared.PermWriteUserRolePermission, Name: "Bind roles and permissions"},
		},
		Roles: []CatalogRole{
			{Code: shared.RoleGeneral, Name: "General user"},
			{Code: shared.RoleAdmin, Name: "Administrator", Permissions: shared.CoreScopes()},
		},
	}
}

// LoadCatalog decodes a YAML catalog.
func LoadCatalog(r io.Reader) (Catalog, error) {
	var catalog Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		return Catalog{}, fmt.Errorf("rbac: decode catalog: %w", err)
	}
	return catalog, nil
}

// Validate checks that codes are present and unique.
func (c Catalog) Validate() error {
	perms := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		if p.Code == "" {
			return fmt.Errorf("%w: permission code required", shared.ErrValidation)
		}
		if _, dup := perms[p.Code]; dup {
			return fmt.Errorf("%w: duplicate permission %q", shared.ErrValidation, p.Code)
		}
		perms[p.Code] = struct{}{}
	}
	roles := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if r.Code == "" {
			return fmt.Errorf("%w: role code required", shared.ErrValidation)
		}
		if _, dup := roles[r.Code]; dup {
			return fmt.Errorf("%w: duplicate role %q", shared.ErrValidation, r.Code)
		}
		roles[r.Code] = struct{}{}
		for _, code := range r.Permissions {
			if _, ok := perms[code]; !ok {
				return fmt.Errorf("%w: role %q grants unknown permission %q", shared.ErrUnresolvedBinding, r.Code, code)
			}
		}
	}
	return nil
}
