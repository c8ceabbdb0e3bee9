package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Resolver computes effective permissions and menu trees from repository data. It keeps no
// state between calls.
type Resolver struct {
	repo   Repository
	logger *slog.Logger
}

// NewResolver constructs a Resolver over repo.
func NewResolver(repo Repository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{repo: repo, logger: logger}
}

// ResolveUserPermissions returns the union of permissions granted by the user's active roles.
func (r *Resolver) ResolveUserPermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	roleIDs, err := r.activeRoleIDs(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}
	groups := make([][]Permission, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		perms, err := r.repo.GetRolePermissions(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			r.danglingRole(userID, roleID)
			continue
		}
		if err != nil {
			return PermissionSet{}, unavailable("role permissions", err)
		}
		groups = append(groups, perms)
	}
	return UnionPermissions(groups...), nil
}

// ResolveUserModulePermissions is ResolveUserPermissions restricted to one module tag.
func (r *Resolver) ResolveUserModulePermissions(ctx context.Context, userID int64, module string) (PermissionSet, error) {
	roleIDs, err := r.activeRoleIDs(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}
	module = strings.TrimSpace(module)
	var matched []Permission
	for _, roleID := range roleIDs {
		perms, err := r.repo.GetRolePermissions(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			r.danglingRole(userID, roleID)
			continue
		}
		if err != nil {
			return PermissionSet{}, unavailable("role permissions", err)
		}
		for _, p := range perms {
			if strings.EqualFold(p.Module, module) {
				matched = append(matched, p)
			}
		}
	}
	return UnionPermissions(matched), nil
}

// ResolveRolePermissions returns the permissions directly assigned to a role.
func (r *Resolver) ResolveRolePermissions(ctx context.Context, roleID int64) (PermissionSet, error) {
	if roleID <= 0 {
		return PermissionSet{}, fmt.Errorf("access: role id %d: %w", roleID, ErrInvalidArgument)
	}
	if _, err := r.repo.GetRole(ctx, roleID); err != nil {
		return PermissionSet{}, unavailable("get role", err)
	}
	perms, err := r.repo.GetRolePermissions(ctx, roleID)
	if err != nil {
		return PermissionSet{}, unavailable("role permissions", err)
	}
	return UnionPermissions(perms), nil
}

// UserHasPermission answers a single check. Repositories implementing PermissionProbe answer
// it directly; otherwise the full set is resolved.
func (r *Resolver) UserHasPermission(ctx context.Context, userID int64, resource, action string) (bool, error) {
	if probe, ok := r.repo.(PermissionProbe); ok {
		granted, err := probe.UserHasPermission(ctx, userID, resource, action)
		if err != nil {
			return false, unavailable("permission probe", err)
		}
		return granted, nil
	}
	set, err := r.ResolveUserPermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(resource, action), nil
}

// ResolveUserMenuTree returns the forest of menus visible through the user's active roles.
func (r *Resolver) ResolveUserMenuTree(ctx context.Context, userID int64) (Forest, error) {
	roleIDs, err := r.activeRoleIDs(ctx, userID)
	if err != nil {
		return Forest{}, err
	}
	visible := make(map[int64]struct{})
	for _, roleID := range roleIDs {
		menuIDs, err := r.repo.GetRoleMenus(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			r.danglingRole(userID, roleID)
			continue
		}
		if err != nil {
			return Forest{}, unavailable("role menus", err)
		}
		for _, id := range menuIDs {
			visible[id] = struct{}{}
		}
	}
	return r.forest(ctx, visible)
}

// ResolveRoleMenuTree returns the forest visible through a single role's assignments.
func (r *Resolver) ResolveRoleMenuTree(ctx context.Context, roleID int64) (Forest, error) {
	if roleID <= 0 {
		return Forest{}, fmt.Errorf("access: role id %d: %w", roleID, ErrInvalidArgument)
	}
	if _, err := r.repo.GetRole(ctx, roleID); err != nil {
		return Forest{}, unavailable("get role", err)
	}
	menuIDs, err := r.repo.GetRoleMenus(ctx, roleID)
	if err != nil {
		return Forest{}, unavailable("role menus", err)
	}
	visible := make(map[int64]struct{}, len(menuIDs))
	for _, id := range menuIDs {
		visible[id] = struct{}{}
	}
	return r.forest(ctx, visible)
}

// BuildUserPermissionMatrix groups the user's permissions by resource.
func (r *Resolver) BuildUserPermissionMatrix(ctx context.Context, userID int64) (map[string][]string, error) {
	set, err := r.ResolveUserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return set.ByResource(), nil
}

// BuildUserRoleMatrix maps each active role name of the user to the permission names it grants.
func (r *Resolver) BuildUserRoleMatrix(ctx context.Context, userID int64) (map[string][]string, error) {
	roleIDs, err := r.userRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	matrix := make(map[string][]string, len(roleIDs))
	for _, roleID := range roleIDs {
		role, err := r.repo.GetRole(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			r.danglingRole(userID, roleID)
			continue
		}
		if err != nil {
			return nil, unavailable("get role", err)
		}
		if !role.IsActive {
			continue
		}
		perms, err := r.repo.GetRolePermissions(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			r.danglingRole(userID, roleID)
			continue
		}
		if err != nil {
			return nil, unavailable("role permissions", err)
		}
		matrix[role.Name] = PermissionNames(perms)
	}
	return matrix, nil
}

func (r *Resolver) forest(ctx context.Context, visible map[int64]struct{}) (Forest, error) {
	if len(visible) == 0 {
		return Forest{}, nil
	}
	menus, err := r.repo.GetAllMenus(ctx)
	if err != nil {
		return Forest{}, unavailable("all menus", err)
	}
	return BuildForest(menus, visible, func(m Menu) {
		r.logger.Warn("menu parent missing, promoted to root",
			slog.Int64("menu_id", m.ID),
			slog.Int64("parent_id", *m.ParentID))
	}), nil
}

func (r *Resolver) userRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	if userID <= 0 {
		return nil, nil
	}
	ids, err := r.repo.GetUserRoles(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("user roles", err)
	}
	unique := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := unique[id]; dup {
			continue
		}
		unique[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *Resolver) activeRoleIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := r.userRoleIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := ids[:0]
	for _, roleID := range ids {
		ok, err := r.repo.IsRoleActive(ctx, roleID)
		if errors.Is(err, ErrNotFound) {
			r.danglingRole(userID, roleID)
			continue
		}
		if err != nil {
			return nil, unavailable("role active", err)
		}
		if ok {
			active = append(active, roleID)
		}
	}
	return active, nil
}

func (r *Resolver) danglingRole(userID, roleID int64) {
	r.logger.Warn("assigned role missing, skipped",
		slog.Int64("user_id", userID),
		slog.Int64("role_id", roleID))
}
