package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	qUserRoles = `SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`

	qRole = `SELECT id, name, description, is_active FROM roles WHERE id = $1`

	qRoleActive = `SELECT is_active FROM roles WHERE id = $1`

	qRolePermissions = `
SELECT p.id, p.resource, p.action, p.module, p.description
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.resource, p.action`

	qRoleMenus = `SELECT menu_id FROM role_menus WHERE role_id = $1 ORDER BY menu_id`

	qAllMenus = `
SELECT id, parent_id, name, path, icon, module, sort_order
FROM menus
ORDER BY sort_order, id`

	qUsersWithRole = `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`

	qRoleExists = `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`

	qUserHasPermission = `
SELECT EXISTS (
	SELECT 1
	FROM user_roles ur
	JOIN roles r ON r.id = ur.role_id AND r.is_active
	JOIN role_permissions rp ON rp.role_id = r.id
	JOIN permissions p ON p.id = rp.permission_id
	WHERE ur.user_id = $1 AND p.resource = $2 AND p.action = $3
)`
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetUserRoles returns the role ids assigned to the user.
func (r *PGRepository) GetUserRoles(ctx context.Context, userID int64) ([]int64, error) {
	return r.ids(ctx, qUserRoles, userID)
}

// GetRole fetches a role by id.
func (r *PGRepository) GetRole(ctx context.Context, roleID int64) (Role, error) {
	var (
		role Role
		desc pgtype.Text
	)
	err := r.pool.QueryRow(ctx, qRole, roleID).Scan(&role.ID, &role.Name, &desc, &role.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
		}
		return Role{}, err
	}
	role.Description = desc.String
	return role, nil
}

// IsRoleActive returns the active flag of the role.
func (r *PGRepository) IsRoleActive(ctx context.Context, roleID int64) (bool, error) {
	var active bool
	if err := r.pool.QueryRow(ctx, qRoleActive, roleID).Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
		}
		return false, err
	}
	return active, nil
}

// GetRolePermissions lists the permissions assigned to the role.
func (r *PGRepository) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if err := r.roleExists(ctx, roleID); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, qRolePermissions, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
		var (
			p      Permission
			module pgtype.Text
			desc   pgtype.Text
		)
		err := row.Scan(&p.ID, &p.Resource, &p.Action, &module, &desc)
		p.Module = module.String
		p.Description = desc.String
		return p, err
	})
}

// GetRoleMenus lists the menu ids assigned to the role.
func (r *PGRepository) GetRoleMenus(ctx context.Context, roleID int64) ([]int64, error) {
	if err := r.roleExists(ctx, roleID); err != nil {
		return nil, err
	}
	return r.ids(ctx, qRoleMenus, roleID)
}

// GetAllMenus returns every menu.
func (r *PGRepository) GetAllMenus(ctx context.Context) ([]Menu, error) {
	rows, err := r.pool.Query(ctx, qAllMenus)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Menu, error) {
		var (
			m      Menu
			parent pgtype.Int8
			path   pgtype.Text
			icon   pgtype.Text
			module pgtype.Text
		)
		if err := row.Scan(&m.ID, &parent, &m.Name, &path, &icon, &module, &m.SortOrder); err != nil {
			return Menu{}, err
		}
		if parent.Valid {
			id := parent.Int64
			m.ParentID = &id
		}
		m.Path = path.String
		m.Icon = icon.String
		m.Module = module.String
		return m, nil
	})
}

// GetUsersWithRole lists the holders of the role.
func (r *PGRepository) GetUsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	return r.ids(ctx, qUsersWithRole, roleID)
}

// UserHasPermission answers a single check with one EXISTS query over active roles.
func (r *PGRepository) UserHasPermission(ctx context.Context, userID int64, resource, action string) (bool, error) {
	var granted bool
	if err := r.pool.QueryRow(ctx, qUserHasPermission, userID, resource, action).Scan(&granted); err != nil {
		return false, err
	}
	return granted, nil
}

func (r *PGRepository) roleExists(ctx context.Context, roleID int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, qRoleExists, roleID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	return nil
}

func (r *PGRepository) ids(ctx context.Context, query string, arg int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

var (
	_ Repository      = (*PGRepository)(nil)
	_ PermissionProbe = (*PGRepository)(nil)
)
