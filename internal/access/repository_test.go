package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var errBackend = errors.New("connection refused")

// stubRepository is an in-memory Repository that counts calls and can be told to fail or block.
type stubRepository struct {
	mu        sync.Mutex
	userRoles map[int64][]int64
	roles     map[int64]Role
	rolePerms map[int64][]Permission
	roleMenus map[int64][]int64
	menus     []Menu
	calls     map[string]int

	fail    error
	failOps map[string]error
	// gate, when set, blocks GetUserRoles until closed.
	gate chan struct{}
}

func newStubRepository() *stubRepository {
	return &stubRepository{
		userRoles: make(map[int64][]int64),
		roles:     make(map[int64]Role),
		rolePerms: make(map[int64][]Permission),
		roleMenus: make(map[int64][]int64),
		calls:     make(map[string]int),
		failOps:   make(map[string]error),
	}
}

func (s *stubRepository) addRole(id int64, name string, active bool, perms ...Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[id] = Role{ID: id, Name: name, IsActive: active}
	s.rolePerms[id] = perms
}

func (s *stubRepository) setActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role := s.roles[id]
	role.IsActive = active
	s.roles[id] = role
}

func (s *stubRepository) deleteRole(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
	delete(s.rolePerms, id)
	delete(s.roleMenus, id)
}

func (s *stubRepository) assign(userID int64, roleIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRoles[userID] = append(s.userRoles[userID], roleIDs...)
}

func (s *stubRepository) grantMenus(roleID int64, menuIDs ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleMenus[roleID] = append(s.roleMenus[roleID], menuIDs...)
}

func (s *stubRepository) setMenus(menus ...Menu) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menus = menus
}

func (s *stubRepository) failAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *stubRepository) failOp(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOps[op] = err
}

func (s *stubRepository) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *stubRepository) begin(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if err, ok := s.failOps[op]; ok {
		return err
	}
	return s.fail
}

func (s *stubRepository) GetUserRoles(ctx context.Context, userID int64) ([]int64, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.begin("GetUserRoles"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.userRoles[userID]...), nil
}

func (s *stubRepository) GetRole(ctx context.Context, roleID int64) (Role, error) {
	if err := s.begin("GetRole"); err != nil {
		return Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return Role{}, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	return role, nil
}

func (s *stubRepository) IsRoleActive(ctx context.Context, roleID int64) (bool, error) {
	if err := s.begin("IsRoleActive"); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[roleID]
	if !ok {
		return false, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	return role.IsActive, nil
}

func (s *stubRepository) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if err := s.begin("GetRolePermissions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	return append([]Permission(nil), s.rolePerms[roleID]...), nil
}

func (s *stubRepository) GetRoleMenus(ctx context.Context, roleID int64) ([]int64, error) {
	if err := s.begin("GetRoleMenus"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, fmt.Errorf("role %d: %w", roleID, ErrNotFound)
	}
	return append([]int64(nil), s.roleMenus[roleID]...), nil
}

func (s *stubRepository) GetAllMenus(ctx context.Context) ([]Menu, error) {
	if err := s.begin("GetAllMenus"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Menu(nil), s.menus...), nil
}

func (s *stubRepository) GetUsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	if err := s.begin("GetUsersWithRole"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []int64
	for userID, roles := range s.userRoles {
		for _, id := range roles {
			if id == roleID {
				users = append(users, userID)
				break
			}
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// probeRepository adds PermissionProbe to the stub.
type probeRepository struct {
	*stubRepository
	probes int
}

func (p *probeRepository) UserHasPermission(ctx context.Context, userID int64, resource, action string) (bool, error) {
	p.probes++
	if err := p.begin("UserHasPermission"); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, roleID := range p.userRoles[userID] {
		role, ok := p.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		for _, perm := range p.rolePerms[roleID] {
			if perm.Resource == resource && perm.Action == action {
				return true, nil
			}
		}
	}
	return false, nil
}

func perm(resource, action string) Permission {
	return Permission{Resource: resource, Action: action}
}

func parent(id int64) *int64 {
	return &id
}
