package acl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"cmsapi/internal/metrics"
	"cmsapi/internal/model"
)

// DefaultTTL is how long a snapshot is served before the next access rebuilds it.
const DefaultTTL = 5 * time.Minute

const flightKey = "acl"

// RoleSource lists every role with its permissions.
type RoleSource interface {
	FindAllWithPermissions(ctx context.Context) ([]model.Role, error)
}

// Snapshot maps role slug to the set of permission slugs. Readers must not mutate it.
type Snapshot map[string]map[string]struct{}

// Slugs flattens the snapshot for JSON responses.
func (s Snapshot) Slugs() map[string][]string {
	out := make(map[string][]string, len(s))
	for role, perms := range s {
		list := make([]string, 0, len(perms))
		for p := range perms {
			list = append(list, p)
		}
		out[role] = list
	}
	return out
}

// Cache holds the role -> permissions mapping in memory.
type Cache struct {
	source RoleSource
	ttl    time.Duration
	now    func() time.Time
	log    *logrus.Entry

	mu       sync.RWMutex
	snapshot Snapshot
	loadedAt time.Time
	// gen advances on Invalidate and Reload; a rebuild only installs if gen is unchanged.
	gen uint64

	group singleflight.Group
}

// NewCache builds an empty cache; the first Get loads it.
func NewCache(source RoleSource, ttl time.Duration, log *logrus.Entry) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Cache{source: source, ttl: ttl, now: time.Now, log: log}
}

// WithClock swaps the time source. Tests only.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the current snapshot, rebuilding it first when absent or older than the TTL.
// A failed TTL rebuild keeps serving the previous snapshot if there is one.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	snap, loadedAt := c.snapshot, c.loadedAt
	c.mu.RUnlock()

	if snap != nil && c.now().Sub(loadedAt) < c.ttl {
		return snap, nil
	}

	// the flight outlives the request that started it
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		c.mu.RLock()
		gen := c.gen
		c.mu.RUnlock()
		return c.rebuild(flightCtx, gen)
	})
	if err != nil {
		if snap != nil {
			c.log.WithError(err).Warn("acl rebuild failed, serving previous snapshot")
			return snap, nil
		}
		return nil, err
	}
	return v.(Snapshot), nil
}

// Reload rebuilds unconditionally. Failures are returned and the previous snapshot stays.
// Rebuilds started before Reload cannot overwrite its snapshot.
func (c *Cache) Reload(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.group.Forget(flightKey)
	c.mu.Unlock()
	return c.rebuild(ctx, gen)
}

// Invalidate drops the snapshot so the next Get rebuilds.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.loadedAt = time.Time{}
	c.gen++
	c.group.Forget(flightKey)
	c.mu.Unlock()
}

// Permissions returns the union of the permission sets of roles.
func (c *Cache) Permissions(ctx context.Context, roles []string) (map[string]struct{}, error) {
	snap, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	union := make(map[string]struct{})
	for _, role := range roles {
		for perm := range snap[role] {
			union[perm] = struct{}{}
		}
	}
	return union, nil
}

func (c *Cache) rebuild(ctx context.Context, gen uint64) (Snapshot, error) {
	start := c.now()
	roles, err := c.source.FindAllWithPermissions(ctx)
	if err != nil {
		metrics.CacheRefreshes.WithLabelValues("acl", "error").Inc()
		return nil, fmt.Errorf("load roles: %w", err)
	}

	snap := make(Snapshot, len(roles))
	for _, role := range roles {
		slugs := role.PermissionSlugs()
		perms := make(map[string]struct{}, len(slugs))
		for _, p := range slugs {
			perms[p] = struct{}{}
		}
		snap[role.Slug] = perms
	}

	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.snapshot = snap
		c.loadedAt = c.now()
	}
	c.mu.Unlock()

	if stale {
		c.log.WithField("cache", "acl").Debug("discarding rebuild superseded by reload")
		return snap, nil
	}

	metrics.CacheRefreshes.WithLabelValues("acl", "ok").Inc()
	c.log.WithFields(logrus.Fields{
		"cache":    "acl",
		"entries":  len(snap),
		"duration": c.now().Sub(start).String(),
	}).Debug("cache rebuilt")
	return snap, nil
}
