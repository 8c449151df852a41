package shared

// Core access-control permissions.
const (
	PermUsersManage = "manage_users"
	PermRolesView   = "roles.view"
	PermRolesAssign = "roles.assign"

	PermPermissionsView = "permissions.view"

	PermSecurityAuditView  = "security.audit.view"
	PermSecurityAuditWrite = "security.audit.write"
)

// CoreScopes lists all permissions related to the access-control core.
func CoreScopes() []string {
	return []string{
		PermUsersManage,
		PermRolesView,
		PermRolesAssign,
		PermPermissionsView,
		PermSecurityAuditView,
		PermSecurityAuditWrite,
	}
}
