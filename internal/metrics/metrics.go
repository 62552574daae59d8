package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AuthAttempts counts session middleware outcomes.
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// CacheRefreshes counts ACL and settings cache rebuilds.
	CacheRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_refresh_total",
			Help: "In-memory cache rebuilds by cache and result.",
		},
		[]string{"cache", "result"},
	)

	// PermissionChecks counts guard decisions.
	PermissionChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_checks_total",
			Help: "Permission guard decisions by result.",
		},
		[]string{"result"},
	)

	// RecoveryEvents counts password recovery transitions and rejections.
	RecoveryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_events_total",
			Help: "Password recovery events.",
		},
		[]string{"event"},
	)

	registerOnce sync.Once
)

// Register adds every collector to reg once per process.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(AuthAttempts, CacheRefreshes, PermissionChecks, RecoveryEvents)
	})
}
