package recovery

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"cmsapi/internal/cache"
)

const (
	sessionKeyPrefix  = "recovery:session:"
	throttleKeyPrefix = "recovery:throttle:"

	memoryStoreSize = 10000
)

// Session is the recovery state held for one email address.
type Session struct {
	UserID              uint      `json:"userId"`
	Code                string    `json:"code"`
	ExpiresAt           time.Time `json:"expires"`
	ResetToken          string    `json:"resetToken,omitempty"`
	ResetTokenExpiresAt time.Time `json:"resetTokenExpires,omitempty"`
}

// Verified reports whether the code has been exchanged for a reset token.
func (s *Session) Verified() bool {
	return s.ResetToken != ""
}

// Store keeps recovery sessions and the last request time per email.
// Entries disappear on their own once their TTL passes.
type Store interface {
	GetSession(ctx context.Context, email string) (*Session, error)
	PutSession(ctx context.Context, email string, s *Session) error
	DeleteSession(ctx context.Context, email string) error
	LastRequest(ctx context.Context, email string) (time.Time, bool, error)
	MarkRequest(ctx context.Context, email string, at time.Time) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	sessions *expirable.LRU[string, Session]
	requests *expirable.LRU[string, time.Time]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore evicts sessions after sessionTTL and request marks after throttleTTL.
func NewMemoryStore(sessionTTL, throttleTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: expirable.NewLRU[string, Session](memoryStoreSize, nil, sessionTTL),
		requests: expirable.NewLRU[string, time.Time](memoryStoreSize, nil, throttleTTL),
	}
}

// GetSession returns nil when there is no session.
func (m *MemoryStore) GetSession(_ context.Context, email string) (*Session, error) {
	s, ok := m.sessions.Get(email)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) PutSession(_ context.Context, email string, s *Session) error {
	m.sessions.Add(email, *s)
	return nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, email string) error {
	m.sessions.Remove(email)
	return nil
}

func (m *MemoryStore) LastRequest(_ context.Context, email string) (time.Time, bool, error) {
	at, ok := m.requests.Get(email)
	return at, ok, nil
}

func (m *MemoryStore) MarkRequest(_ context.Context, email string, at time.Time) error {
	m.requests.Add(email, at)
	return nil
}

// RedisStore shares recovery state between instances.
type RedisStore struct {
	client      *cache.Client
	sessionTTL  time.Duration
	throttleTTL time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store whose keys expire after the given TTLs.
func NewRedisStore(client *cache.Client, sessionTTL, throttleTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, sessionTTL: sessionTTL, throttleTTL: throttleTTL}
}

// GetSession returns nil when there is no session.
func (r *RedisStore) GetSession(ctx context.Context, email string) (*Session, error) {
	var s Session
	found, err := r.client.GetJSON(ctx, sessionKeyPrefix+email, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) PutSession(ctx context.Context, email string, s *Session) error {
	return r.client.SetJSON(ctx, sessionKeyPrefix+email, s, r.sessionTTL)
}

func (r *RedisStore) DeleteSession(ctx context.Context, email string) error {
	return r.client.Delete(ctx, sessionKeyPrefix+email)
}

func (r *RedisStore) LastRequest(ctx context.Context, email string) (time.Time, bool, error) {
	var at time.Time
	found, err := r.client.GetJSON(ctx, throttleKeyPrefix+email, &at)
	if err != nil || !found {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (r *RedisStore) MarkRequest(ctx context.Context, email string, at time.Time) error {
	return r.client.SetJSON(ctx, throttleKeyPrefix+email, at, r.throttleTTL)
}
