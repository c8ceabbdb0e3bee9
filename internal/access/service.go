package access

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultPreloadTimeout = 2 * time.Second

// ServiceParams groups the dependencies of a Service.
type ServiceParams struct {
	Repository     Repository
	Cache          *Cache
	Broadcaster    Broadcaster
	Metrics        *Metrics
	Logger         *slog.Logger
	PreloadTimeout time.Duration
}

// Service answers authorization and menu questions for request handling code.
//
// Consistency contract: the administrative layer must call Invalidate after changing a user's
// role assignments, InvalidateRole after changing a role's permissions, menus or active flag,
// and InvalidateAll after changing the menu structure. Without these calls cached decisions
// stay stale for up to the cache TTL.
type Service struct {
	repo           Repository
	resolver       *Resolver
	cache          *Cache
	bus            Broadcaster
	metrics        *Metrics
	logger         *slog.Logger
	preloadTimeout time.Duration
}

// NewService wires a Service. A nil Cache gets a default one.
func NewService(p ServiceParams) (*Service, error) {
	if p.Repository == nil {
		return nil, errors.New("access: repository required")
	}
	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}
	if p.Cache == nil {
		p.Cache = NewCache(CacheConfig{Metrics: p.Metrics})
	}
	if p.PreloadTimeout <= 0 {
		p.PreloadTimeout = defaultPreloadTimeout
	}
	return &Service{
		repo:           p.Repository,
		resolver:       NewResolver(p.Repository, p.Logger),
		cache:          p.Cache,
		bus:            p.Broadcaster,
		metrics:        p.Metrics,
		logger:         p.Logger,
		preloadTimeout: p.PreloadTimeout,
	}, nil
}

// Authorize reports whether the user may perform action on resource. Any failure denies.
func (s *Service) Authorize(ctx context.Context, userID int64, resource, action string) bool {
	allowed, err := s.Check(ctx, userID, resource, action)
	if err != nil {
		s.logger.Error("authorization failed closed",
			slog.Int64("user_id", userID),
			slog.String("resource", resource),
			slog.String("action", action),
			slog.Any("error", err))
		return false
	}
	return allowed
}

// Check is Authorize with the failure surfaced. The boolean is false whenever err is non-nil.
func (s *Service) Check(ctx context.Context, userID int64, resource, action string) (bool, error) {
	if userID <= 0 {
		s.metrics.recordDecision(false, nil)
		return false, nil
	}
	set, err := s.userPermissions(ctx, userID)
	if err != nil {
		s.metrics.recordDecision(false, err)
		return false, err
	}
	allowed := set.Has(resource, action)
	s.metrics.recordDecision(allowed, nil)
	return allowed, nil
}

// Permissions returns the user's cached effective permission set.
func (s *Service) Permissions(ctx context.Context, userID int64) (PermissionSet, error) {
	if userID <= 0 {
		return NewPermissionSet(), nil
	}
	return s.userPermissions(ctx, userID)
}

func (s *Service) userPermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	return getOrCompute(ctx, s.cache, UserKey(userID, KindPermissions), func(ctx context.Context) (PermissionSet, error) {
		return s.resolver.ResolveUserPermissions(ctx, userID)
	})
}

// GetVisibleMenus returns the user's menu forest, or an empty forest on failure.
func (s *Service) GetVisibleMenus(ctx context.Context, userID int64) Forest {
	forest, err := s.VisibleMenus(ctx, userID)
	if err != nil {
		s.logger.Error("menu resolution failed closed", slog.Int64("user_id", userID), slog.Any("error", err))
		return Forest{}
	}
	return forest
}

// GetVisibleMenusForModule returns the visible subtrees rooted in module.
func (s *Service) GetVisibleMenusForModule(ctx context.Context, userID int64, module string) Forest {
	return s.GetVisibleMenus(ctx, userID).FilterModule(module)
}

// VisibleMenus returns a copy of the user's cached menu forest.
func (s *Service) VisibleMenus(ctx context.Context, userID int64) (Forest, error) {
	if userID <= 0 {
		return Forest{}, nil
	}
	forest, err := getOrCompute(ctx, s.cache, UserKey(userID, KindMenuTree), func(ctx context.Context) (Forest, error) {
		return s.resolver.ResolveUserMenuTree(ctx, userID)
	})
	if err != nil {
		return Forest{}, err
	}
	return forest.Clone(), nil
}

// PermissionMatrix returns resource -> actions for the user.
func (s *Service) PermissionMatrix(ctx context.Context, userID int64) (map[string][]string, error) {
	if userID <= 0 {
		return map[string][]string{}, nil
	}
	matrix, err := getOrCompute(ctx, s.cache, UserKey(userID, KindPermissionMatrix), func(ctx context.Context) (map[string][]string, error) {
		return s.resolver.BuildUserPermissionMatrix(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return cloneMatrix(matrix), nil
}

// RoleMatrix returns role name -> permission names for the user's active roles. It is meant
// for bulk consumers and always reads through to the repository.
func (s *Service) RoleMatrix(ctx context.Context, userID int64) (map[string][]string, error) {
	return s.resolver.BuildUserRoleMatrix(ctx, userID)
}

// ModulePermissions returns the user's permissions tagged with module, read through.
func (s *Service) ModulePermissions(ctx context.Context, userID int64, module string) (PermissionSet, error) {
	return s.resolver.ResolveUserModulePermissions(ctx, userID, module)
}

// RolePermissions returns the cached permission set of a role.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) (PermissionSet, error) {
	return getOrCompute(ctx, s.cache, RoleKey(roleID, KindPermissions), func(ctx context.Context) (PermissionSet, error) {
		return s.resolver.ResolveRolePermissions(ctx, roleID)
	})
}

// RoleMenus returns a copy of the cached menu forest of a role.
func (s *Service) RoleMenus(ctx context.Context, roleID int64) (Forest, error) {
	forest, err := getOrCompute(ctx, s.cache, RoleKey(roleID, KindMenuTree), func(ctx context.Context) (Forest, error) {
		return s.resolver.ResolveRoleMenuTree(ctx, roleID)
	})
	if err != nil {
		return Forest{}, err
	}
	return forest.Clone(), nil
}

// Preload warms the user's permission entry in the background and returns immediately.
func (s *Service) Preload(ctx context.Context, userID int64) {
	if userID <= 0 {
		return
	}
	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.preloadTimeout)
		defer cancel()
		set, err := s.userPermissions(pctx, userID)
		if err != nil {
			s.logger.Warn("preload permissions", slog.Int64("user_id", userID), slog.Any("error", err))
			return
		}
		if set.Len() == 0 {
			s.logger.Info("user has no permissions", slog.Int64("user_id", userID))
		}
	}()
}

// Invalidate evicts every cached result of the user here and on peer instances.
func (s *Service) Invalidate(ctx context.Context, userID int64) error {
	s.cache.Invalidate(userID)
	s.metrics.recordInvalidation("user", "local")
	return s.publish(ctx, InvalidationEvent{UserIDs: []int64{userID}})
}

// InvalidateRole evicts the role's entries and those of every holder. When holders cannot be
// enumerated the whole cache is purged instead, so no holder keeps a stale decision.
func (s *Service) InvalidateRole(ctx context.Context, roleID int64) error {
	s.cache.InvalidateRole(roleID)
	users, err := s.repo.GetUsersWithRole(ctx, roleID)
	if err != nil {
		s.logger.Warn("enumerate role holders, purging cache",
			slog.Int64("role_id", roleID),
			slog.Any("error", err))
		return s.InvalidateAll(ctx)
	}
	for _, userID := range users {
		s.cache.Invalidate(userID)
	}
	s.metrics.recordInvalidation("role", "local")
	return s.publish(ctx, InvalidationEvent{RoleIDs: []int64{roleID}, UserIDs: users})
}

// InvalidateAll purges the cache here and on peer instances.
func (s *Service) InvalidateAll(ctx context.Context) error {
	s.cache.Purge()
	s.metrics.recordInvalidation("all", "local")
	return s.publish(ctx, InvalidationEvent{All: true})
}

// Listen applies invalidations published by peer instances until ctx is cancelled.
func (s *Service) Listen(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Subscribe(ctx, s.apply)
}

func (s *Service) apply(event InvalidationEvent) {
	if event.All {
		s.cache.Purge()
		s.metrics.recordInvalidation("all", "remote")
		return
	}
	for _, roleID := range event.RoleIDs {
		s.cache.InvalidateRole(roleID)
		s.metrics.recordInvalidation("role", "remote")
	}
	for _, userID := range event.UserIDs {
		s.cache.Invalidate(userID)
		s.metrics.recordInvalidation("user", "remote")
	}
}

func (s *Service) publish(ctx context.Context, event InvalidationEvent) error {
	if s.bus == nil {
		return nil
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("broadcast invalidation", slog.Any("error", err))
		return err
	}
	return nil
}

func cloneMatrix(src map[string][]string) map[string][]string {
	dst := make(map[string][]string, len(src))
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
	return dst
}
