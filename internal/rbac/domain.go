package rbac

import (
	"strings"

	"github.com/odyssey-erp/sentinel/internal/roles"
)

// Permission represents an atomic capability.
type Permission struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Binding grants a permission to a single role. Bindings are not expanded
// through the role hierarchy.
type Binding struct {
	Role       roles.Role `json:"role" yaml:"role"`
	Permission string     `json:"permission" yaml:"permission"`
}

// AdminAccess is the verdict of VerifyAdminAccess.
type AdminAccess struct {
	IsAdmin        bool       `json:"isAdmin"`
	Role           roles.Role `json:"role"`
	IsSpecialAdmin bool       `json:"isSpecialAdmin"`
}

// Cache keys.
const (
	PermissionsCacheKey      = "permissions"
	rolePermissionsKeyPrefix = "role_permissions:"
	userRoleKeyPrefix        = "user_role:"
)

// RolePermissionsCacheKey returns the cache key for role's bindings.
func RolePermissionsCacheKey(role roles.Role) string {
	return rolePermissionsKeyPrefix + string(role)
}

func userRoleCacheKey(userID string) string {
	return userRoleKeyPrefix + userID
}

// NormalizePermission trims and lowercases a permission name.
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
