package shared

// Core permission codes. Codes are checked verbatim.
const (
	PermReadUserRolePermission  = "READ_USER_ROLE_PERMISSION"
	PermWriteUserRolePermission = "WRITE_USER_ROLE_PERMISSION"
)

// Core role codes.
const (
	RoleGeneral = "GENERAL"
	RoleAdmin   = "ADMIN"
)

// CoreScopes lists all permissions related to the user/role/permission admin surface.
func CoreScopes() []string {
	return []string{
		PermReadUserRolePermission,
		PermWriteUserRolePermission,
	}
}
