package acl

import (
	"context"

	"cmsapi/internal/metrics"
)

// Guard decides whether a set of roles satisfies a rule.
type Guard struct {
	cache *Cache
}

// NewGuard creates a guard reading from cache.
func NewGuard(cache *Cache) *Guard {
	return &Guard{cache: cache}
}

// Authorize unions the permissions of roles and evaluates rule against the union.
// ACL lookup errors are returned, never turned into an allow.
func (g *Guard) Authorize(ctx context.Context, roles []string, rule Rule) (bool, error) {
	granted, err := g.cache.Permissions(ctx, roles)
	if err != nil {
		metrics.PermissionChecks.WithLabelValues("error").Inc()
		return false, err
	}
	allowed := rule.Evaluate(granted)
	if allowed {
		metrics.PermissionChecks.WithLabelValues("allow").Inc()
	} else {
		metrics.PermissionChecks.WithLabelValues("deny").Inc()
	}
	return allowed, nil
}
