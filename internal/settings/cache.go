package settings

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

// DefaultTTL is how long a loaded tree is served before the next access reloads it.
const DefaultTTL = 5 * time.Minute

const flightKey = "settings"

// Source lists every settings row.
type Source interface {
	FindAll(ctx context.Context) ([]model.Setting, error)
}

// Cache materializes the settings table into a Node tree.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time
	log    *logrus.Entry

	mu       sync.RWMutex
	tree     *Node
	loadedAt time.Time
	// gen advances on every Invalidate; a load only installs its tree if gen is unchanged.
	gen uint64

	group singleflight.Group
}

// NewCache builds an empty cache; the first LoadAll fills it.
func NewCache(source Source, ttl time.Duration, log *logrus.Entry) *Cache {
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

// LoadAll returns the settings tree, reloading it when absent or stale.
// A failed TTL reload keeps serving the previous tree if there is one.
func (c *Cache) LoadAll(ctx context.Context) (*Node, error) {
	tree, _, err := c.load(ctx)
	return tree, err
}

// loaded is a tree together with the generation it was read under.
type loaded struct {
	tree *Node
	gen  uint64
}

func (c *Cache) load(ctx context.Context) (*Node, uint64, error) {
	c.mu.RLock()
	tree, loadedAt, gen := c.tree, c.loadedAt, c.gen
	c.mu.RUnlock()

	if tree != nil && c.now().Sub(loadedAt) < c.ttl {
		return tree, gen, nil
	}

	// the flight outlives the request that started it
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		return c.reload(flightCtx)
	})
	if err != nil {
		if tree != nil {
			c.log.WithError(err).Warn("settings reload failed, serving previous tree")
			return tree, gen, nil
		}
		return nil, 0, err
	}
	l := v.(loaded)
	return l.tree, l.gen, nil
}

// GetByPrefix returns the subtree under a dotted prefix, or an empty node when any segment is missing.
func (c *Cache) GetByPrefix(ctx context.Context, prefix string) (*Node, error) {
	tree, err := c.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if sub, ok := tree.Lookup(prefix); ok {
		return sub, nil
	}
	return newNode(), nil
}

// Invalidate drops the tree so the next LoadAll queries the source.
// Loads already in flight finish for their callers but are not installed.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.tree = nil
	c.loadedAt = time.Time{}
	c.gen++
	c.group.Forget(flightKey)
	c.mu.Unlock()
}

func (c *Cache) reload(ctx context.Context) (loaded, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	start := c.now()
	rows, err := c.source.FindAll(ctx)
	if err != nil {
		metrics.CacheRefreshes.WithLabelValues("settings", "error").Inc()
		return loaded{}, fmt.Errorf("load settings: %w", err)
	}

	tree := c.build(rows)

	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.tree = tree
		c.loadedAt = c.now()
	}
	c.mu.Unlock()

	if stale {
		c.log.WithField("cache", "settings").Debug("discarding load started before invalidation")
		return loaded{tree: tree, gen: gen}, nil
	}

	metrics.CacheRefreshes.WithLabelValues("settings", "ok").Inc()
	c.log.WithFields(logrus.Fields{
		"cache":    "settings",
		"entries":  len(rows),
		"duration": c.now().Sub(start).String(),
	}).Debug("cache rebuilt")
	return loaded{tree: tree, gen: gen}, nil
}

func (c *Cache) build(rows []model.Setting) *Node {
	root := newNode()
	for _, row := range rows {
		path := splitKey(row.Key)
		if len(path) == 0 {
			continue
		}
		kind := KindOf(row.Type, row.Category)
		value, err := Decode(kind, row.Value)
		if err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"key":  row.Key,
				"kind": kind.String(),
			}).Warn("setting value could not be decoded, using raw string")
			value = row.Value
		}
		root.insert(path, row.ID, value)
	}
	return root
}
