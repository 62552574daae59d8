package acl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cmsapi/internal/logging"
	"cmsapi/internal/model"
)

// MockRoleSource is a mock implementation of RoleSource.
type MockRoleSource struct {
	mock.Mock
}

func (m *MockRoleSource) FindAllWithPermissions(ctx context.Context) ([]model.Role, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Role), args.Error(1)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func role(slug string, perms ...string) model.Role {
	r := model.Role{Name: slug, Slug: slug}
	for _, p := range perms {
		r.Permissions = append(r.Permissions, model.Permission{Name: p, Slug: p})
	}
	return r
}

func newTestCache(src RoleSource, clock *fakeClock) *Cache {
	return NewCache(src, 5*time.Minute, logging.Discard()).WithClock(clock.Now)
}

func TestCache_GetBuildsOnceWithinTTL(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:edit", "articles:read")}, nil).Once()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(src, clock)

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	clock.Advance(4 * time.Minute)
	second, err := cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first["editor"], "articles:edit")
	src.AssertNumberOfCalls(t, "FindAllWithPermissions", 1)
}

func TestCache_GetRebuildsAfterTTL(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:edit")}, nil).Once()
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:edit", "articles:delete")}, nil).Once()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(src, clock)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	clock.Advance(5 * time.Minute)
	snap, err := cache.Get(context.Background())
	require.NoError(t, err)

	assert.Contains(t, snap["editor"], "articles:delete")
	src.AssertNumberOfCalls(t, "FindAllWithPermissions", 2)
}

func TestCache_ReloadReplacesWholeSnapshot(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:edit"), role("legacy", "old:perm")}, nil).Once()
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:read"), role("administrator", "settings:read", "settings:update")}, nil).Once()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(src, clock)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	reloaded, err := cache.Reload(context.Background())
	require.NoError(t, err)
	got, err := cache.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, reloaded, got)
	assert.Equal(t, []string{"articles:read"}, got.Slugs()["editor"])
	assert.ElementsMatch(t, []string{"settings:read", "settings:update"}, got.Slugs()["administrator"])
	assert.NotContains(t, got, "legacy")
	assert.NotContains(t, got["editor"], "articles:edit")
	assert.Len(t, got, 2)
}

func TestCache_ReloadErrorKeepsPreviousSnapshot(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:edit")}, nil).Once()
	src.On("FindAllWithPermissions", mock.Anything).
		Return(nil, errors.New("db down")).Once()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(src, clock)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)

	_, err = cache.Reload(context.Background())
	assert.Error(t, err)

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap["editor"], "articles:edit")
}

func TestCache_TTLRebuildFailureServesLastGood(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:edit")}, nil).Once()
	src.On("FindAllWithPermissions", mock.Anything).
		Return(nil, errors.New("db down")).Once()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cache := newTestCache(src, clock)

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)

	snap, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap["editor"], "articles:edit")
}

func TestCache_FirstLoadFailurePropagates(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).Return(nil, errors.New("db down"))
	cache := newTestCache(src, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	snap, err := cache.Get(context.Background())
	assert.Error(t, err)
	assert.Nil(t, snap)
}

func TestCache_InvalidateForcesRebuild(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).
		Return([]model.Role{role("editor", "articles:edit")}, nil)
	cache := newTestCache(src, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Get(context.Background())
	require.NoError(t, err)

	src.AssertNumberOfCalls(t, "FindAllWithPermissions", 2)
}

func TestCache_PermissionsUnion(t *testing.T) {
	src := new(MockRoleSource)
	src.On("FindAllWithPermissions", mock.Anything).Return([]model.Role{
		role("editor", "articles:edit"),
		role("moderator", "comments:delete", "articles:edit"),
	}, nil)
	cache := newTestCache(src, &fakeClock{t: time.Unix(1_700_000_000, 0)})

	union, err := cache.Permissions(context.Background(), []string{"editor", "moderator", "ghost"})
	require.NoError(t, err)
	assert.Len(t, union, 2)
	assert.Contains(t, union, "comments:delete")

	empty, err := cache.Permissions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// gatedRoleSource holds its first call until release is closed.
type gatedRoleSource struct {
	mu      sync.Mutex
	perm    string
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedRoleSource) FindAllWithPermissions(context.Context) ([]model.Role, error) {
	g.mu.Lock()
	g.calls++
	n, perm := g.calls, g.perm
	g.mu.Unlock()

	if n == 1 {
		close(g.entered)
		<-g.release
	}
	return []model.Role{role("editor", perm)}, nil
}

func TestCache_ReloadWinsOverEarlierRebuild(t *testing.T) {
	src := &gatedRoleSource{perm: "articles:read", entered: make(chan struct{}), release: make(chan struct{})}
	cache := NewCache(src, 5*time.Minute, logging.Discard())
	ctx := context.Background()

	early := make(chan Snapshot, 1)
	go func() {
		snap, _ := cache.Get(ctx)
		early <- snap
	}()
	<-src.entered

	src.mu.Lock()
	src.perm = "articles:edit"
	src.mu.Unlock()

	reloaded, err := cache.Reload(ctx)
	require.NoError(t, err)
	assert.Contains(t, reloaded["editor"], "articles:edit")

	close(src.release)
	old := <-early
	assert.Contains(t, old["editor"], "articles:read")

	current, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, current["editor"], "articles:edit")
	assert.NotContains(t, current["editor"], "articles:read")
}

type ctxRoleSource struct{}

func (ctxRoleSource) FindAllWithPermissions(ctx context.Context) ([]model.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []model.Role{role("editor", "articles:read")}, nil
}

func TestCache_GetSurvivesCancelledCaller(t *testing.T) {
	cache := newTestCache(ctxRoleSource{}, &fakeClock{t: time.Unix(1_700_000_000, 0)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap["editor"], "articles:read")
}
