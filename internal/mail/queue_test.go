package mail

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gateMailer blocks every send until release is closed and reports delivered codes.
type gateMailer struct {
	release chan struct{}
	sent    chan string
}

func newGateMailer() *gateMailer {
	return &gateMailer{release: make(chan struct{}), sent: make(chan string, 8)}
}

func (g *gateMailer) SendRecoveryCode(ctx context.Context, _, code string, _ time.Duration) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	g.sent <- code
	return nil
}

func quietLog() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

func waitCode(t *testing.T, g *gateMailer) string {
	t.Helper()
	select {
	case code := <-g.sent:
		return code
	case <-time.After(3 * time.Second):
		t.Fatal("mail was not delivered")
		return ""
	}
}

func TestQueuedMailer_ReturnsBeforeDelivery(t *testing.T) {
	inner := newGateMailer()
	q := NewMemoryQueue(inner, 4, quietLog())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(stopped)
	}()

	start := time.Now()
	require.NoError(t, q.SendRecoveryCode(ctx, "user@x.com", "123456", time.Minute))
	assert.Less(t, time.Since(start), time.Second)

	close(inner.release)
	assert.Equal(t, "123456", waitCode(t, inner))

	cancel()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestQueuedMailer_MemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(newGateMailer(), 1, quietLog())
	ctx := context.Background()

	require.NoError(t, q.SendRecoveryCode(ctx, "a@x.com", "111111", time.Minute))
	assert.ErrorIs(t, q.SendRecoveryCode(ctx, "b@x.com", "222222", time.Minute), ErrQueueFull)
}

func TestQueuedMailer_RedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := newGateMailer()
	close(inner.release)
	q := NewRedisQueue(inner, rdb, 2, quietLog())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.SendRecoveryCode(ctx, "a@x.com", "111111", time.Minute))
	require.NoError(t, q.SendRecoveryCode(ctx, "b@x.com", "222222", time.Minute))
	assert.ErrorIs(t, q.SendRecoveryCode(ctx, "c@x.com", "333333", time.Minute), ErrQueueFull)

	pending, err := mr.List(QueueKey)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	go q.Run(ctx)
	assert.Equal(t, "111111", waitCode(t, inner))
	assert.Equal(t, "222222", waitCode(t, inner))
}
