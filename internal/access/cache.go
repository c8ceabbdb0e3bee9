package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheTTL       = 5 * time.Minute
	defaultComputeTimeout = 3 * time.Second
	defaultMaxEntries     = 50000
)

// SubjectKind distinguishes user-level from role-level cache entries.
type SubjectKind uint8

const (
	SubjectUser SubjectKind = iota + 1
	SubjectRole
)

func (k SubjectKind) String() string {
	switch k {
	case SubjectUser:
		return "user"
	case SubjectRole:
		return "role"
	default:
		return "unknown"
	}
}

// ResultKind names the resolved view stored under a key.
type ResultKind uint8

const (
	KindPermissions ResultKind = iota + 1
	KindMenuTree
	KindPermissionMatrix
)

var resultKinds = []ResultKind{KindPermissions, KindMenuTree, KindPermissionMatrix}

func (k ResultKind) String() string {
	switch k {
	case KindPermissions:
		return "permissions"
	case KindMenuTree:
		return "menu_tree"
	case KindPermissionMatrix:
		return "permission_matrix"
	default:
		return "unknown"
	}
}

// Subject is the owner of a group of cache entries.
type Subject struct {
	Kind SubjectKind
	ID   int64
}

// Key identifies one cached result.
type Key struct {
	Subject Subject
	Kind    ResultKind
}

// UserKey builds the key of a user-level result.
func UserKey(userID int64, kind ResultKind) Key {
	return Key{Subject: Subject{Kind: SubjectUser, ID: userID}, Kind: kind}
}

// RoleKey builds the key of a role-level result.
func RoleKey(roleID int64, kind ResultKind) Key {
	return Key{Subject: Subject{Kind: SubjectRole, ID: roleID}, Kind: kind}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.Subject.Kind, k.Subject.ID, k.Kind)
}

// CacheConfig tunes a Cache. Zero values fall back to defaults.
type CacheConfig struct {
	TTL            time.Duration
	ComputeTimeout time.Duration
	MaxEntries     int
	Metrics        *Metrics
	Clock          func() time.Time
}

// stamp versions a subject. Entries computed under an older stamp are never stored.
type stamp struct {
	epoch uint64
	gen   uint64
}

type entry struct {
	value   any
	created time.Time
	stamp   stamp
}

// Cache stores resolved results per subject and kind. Concurrent misses on the same key share
// a single computation; misses on different keys never wait on each other.
type Cache struct {
	ttl            time.Duration
	computeTimeout time.Duration
	now            func() time.Time
	metrics        *Metrics

	entries *expirable.LRU[Key, entry]
	group   singleflight.Group

	mu          sync.RWMutex
	epoch       uint64
	generations map[Subject]uint64
}

// NewCache constructs a Cache.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = defaultComputeTimeout
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Cache{
		ttl:            cfg.TTL,
		computeTimeout: cfg.ComputeTimeout,
		now:            cfg.Clock,
		metrics:        cfg.Metrics,
		entries:        expirable.NewLRU[Key, entry](cfg.MaxEntries, nil, cfg.TTL),
		generations:    make(map[Subject]uint64),
	}
}

// TTL returns the configured entry lifetime, which bounds staleness for missed invalidations.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// GetOrCompute returns the cached value for key or runs compute once for all concurrent callers
// of the same key. Failures are returned to every waiter and are not cached. The computation
// is detached from the caller's cancellation and bounded by the compute timeout.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (any, error)) (any, error) {
	st := c.stampOf(key.Subject)
	if e, ok := c.entries.Get(key); ok && e.stamp == st && c.now().Sub(e.created) < c.ttl {
		c.metrics.recordHit(key.Kind)
		return e.value, nil
	}
	c.metrics.recordMiss(key.Kind)

	flight := fmt.Sprintf("%s#%d.%d", key, st.epoch, st.gen)
	results := c.group.DoChan(flight, func() (any, error) {
		return c.compute(ctx, key, st, compute)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Shared {
			c.metrics.recordShared(key.Kind)
		}
		return res.Val, res.Err
	}
}

func (c *Cache) compute(parent context.Context, key Key, st stamp, fn func(context.Context) (any, error)) (any, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.computeTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{value: v, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("access: resolve %s: %w: %w", key, ErrRepositoryUnavailable, ctx.Err())
	}
	c.metrics.observeCompute(key.Kind, out.err, time.Since(start))
	if out.err != nil {
		return nil, out.err
	}
	c.store(key, st, out.value)
	return out.value, nil
}

func (c *Cache) store(key Key, st stamp, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentLocked(key.Subject) != st {
		return
	}
	c.entries.Add(key, entry{value: value, created: c.now(), stamp: st})
}

func (c *Cache) stampOf(s Subject) stamp {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentLocked(s)
}

func (c *Cache) currentLocked(s Subject) stamp {
	return stamp{epoch: c.epoch, gen: c.generations[s]}
}

// Invalidate removes every entry of the user across result kinds.
func (c *Cache) Invalidate(userID int64) {
	c.evict(Subject{Kind: SubjectUser, ID: userID})
}

// InvalidateRole removes the role's own entries. Holders of the role are evicted by the caller.
func (c *Cache) InvalidateRole(roleID int64) {
	c.evict(Subject{Kind: SubjectRole, ID: roleID})
}

func (c *Cache) evict(subjects ...Subject) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range subjects {
		c.generations[s]++
		for _, kind := range resultKinds {
			c.entries.Remove(Key{Subject: s, Kind: kind})
		}
	}
}

// Purge drops every entry and makes all in-flight computations non-storable.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.generations = make(map[Subject]uint64)
	c.entries.Purge()
}

func getOrCompute[T any](ctx context.Context, c *Cache, key Key, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
		res, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("access: cache entry %s holds %T", key, v)
	}
	return typed, nil
}
