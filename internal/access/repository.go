package access

import "context"

// Repository is the read side of the assignment data the resolver consumes. Implementations
// return ErrNotFound for unknown role ids and any other error for infrastructure failures.
type Repository interface {
	// GetUserRoles returns the ids of roles assigned to the user. Unknown users have no roles.
	GetUserRoles(ctx context.Context, userID int64) ([]int64, error)
	// GetRole returns a single role.
	GetRole(ctx context.Context, roleID int64) (Role, error)
	// IsRoleActive reports the active flag of the role.
	IsRoleActive(ctx context.Context, roleID int64) (bool, error)
	// GetRolePermissions returns the permissions directly assigned to the role.
	GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	// GetRoleMenus returns the ids of menus directly assigned to the role.
	GetRoleMenus(ctx context.Context, roleID int64) ([]int64, error)
	// GetAllMenus returns the global menu set.
	GetAllMenus(ctx context.Context) ([]Menu, error)
	// GetUsersWithRole enumerates holders of a role for invalidation fan-out.
	GetUsersWithRole(ctx context.Context, roleID int64) ([]int64, error)
}

// PermissionProbe is implemented by repositories that can answer a single permission check
// with one existence query instead of materialising the user's permission set.
type PermissionProbe interface {
	UserHasPermission(ctx context.Context, userID int64, resource, action string) (bool, error)
}
