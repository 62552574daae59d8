package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	apperrors "cmsapi/internal/errors"
	"cmsapi/internal/settings"
)

const (
	defaultRateMax    = 100
	defaultRateWindow = 15 // minutes

	limiterCacheSize = 10000
	limiterIdleTTL   = time.Hour
)

// SettingsTree is where the limiter reads rate_limit.<scope>.{max,window}.
type SettingsTree interface {
	LoadAll(ctx context.Context) (*settings.Node, error)
}

type limiterEntry struct {
	limiter *rate.Limiter
	limit   int
	window  int
}

// RateLimiter keeps one token bucket per scope and client IP.
type RateLimiter struct {
	settings SettingsTree
	log      *logrus.Entry

	mu       sync.Mutex
	limiters *expirable.LRU[string, *limiterEntry]
}

// NewRateLimiter creates a limiter driven by the settings tree.
func NewRateLimiter(tree SettingsTree, log *logrus.Entry) *RateLimiter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RateLimiter{
		settings: tree,
		log:      log,
		limiters: expirable.NewLRU[string, *limiterEntry](limiterCacheSize, nil, limiterIdleTTL),
	}
}

// Middleware allows rate_limit.<scope>.max requests per rate_limit.<scope>.window minutes per IP.
func (rl *RateLimiter) Middleware(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limit, window := rl.params(c.Request().Context(), scope)
			if !rl.allow(scope+":"+c.RealIP(), limit, window) {
				c.Response().Header().Set("Retry-After", strconv.Itoa(window*60/limit+1))
				return apperrors.ErrRateLimited
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			return next(c)
		}
	}
}

func (rl *RateLimiter) params(ctx context.Context, scope string) (int, int) {
	tree, err := rl.settings.LoadAll(ctx)
	if err != nil {
		rl.log.WithError(err).WithField("scope", scope).Warn("rate limit settings unavailable, using defaults")
		return defaultRateMax, defaultRateWindow
	}
	limit := tree.Int("rate_limit."+scope+".max", defaultRateMax)
	window := tree.Int("rate_limit."+scope+".window", defaultRateWindow)
	if limit <= 0 {
		limit = defaultRateMax
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return limit, window
}

func (rl *RateLimiter) allow(key string, limit, window int) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters.Get(key)
	if !ok || entry.limit != limit || entry.window != window {
		every := time.Duration(window) * time.Minute / time.Duration(limit)
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(every), limit), limit: limit, window: window}
		rl.limiters.Add(key, entry)
	}
	rl.mu.Unlock()
	return entry.limiter.Allow()
}
