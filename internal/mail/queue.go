package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// QueueKey is the redis list holding outbound mail.
const QueueKey = "cmsapi:mail:queue"

// DefaultQueueSize caps pending mail so a dead relay cannot grow the queue without bound.
const DefaultQueueSize = 1000

// ErrQueueFull is returned when the queue is at capacity.
var ErrQueueFull = errors.New("mail queue full")

type job struct {
	ToEmail   string `json:"to_email"`
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expires_in"`
}

type jobQueue interface {
	push(ctx context.Context, j job) error
	// pop waits briefly for a job; ok is false when none arrived.
	pop(ctx context.Context) (j job, ok bool, err error)
}

// QueuedMailer implements Mailer by enqueueing; Run delivers through the inner Mailer.
// Callers return as soon as the job is queued, whether or not SMTP is slow.
type QueuedMailer struct {
	inner Mailer
	queue jobQueue
	log   *logrus.Entry
}

// NewMemoryQueue buffers up to size jobs in process. Pending mail is lost on restart.
func NewMemoryQueue(inner Mailer, size int, log *logrus.Entry) *QueuedMailer {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return newQueuedMailer(inner, &memoryQueue{jobs: make(chan job, size)}, log)
}

// NewRedisQueue keeps jobs in a redis list shared by every instance.
func NewRedisQueue(inner Mailer, rdb *redis.Client, size int64, log *logrus.Entry) *QueuedMailer {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return newQueuedMailer(inner, &redisQueue{rdb: rdb, max: size}, log)
}

func newQueuedMailer(inner Mailer, q jobQueue, log *logrus.Entry) *QueuedMailer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &QueuedMailer{inner: inner, queue: q, log: log}
}

// SendRecoveryCode enqueues the message.
func (q *QueuedMailer) SendRecoveryCode(ctx context.Context, toEmail, code string, expiresIn time.Duration) error {
	return q.queue.push(ctx, job{ToEmail: toEmail, Code: code, ExpiresIn: int64(expiresIn)})
}

// Run delivers queued mail until ctx is cancelled. Call it in its own goroutine.
func (q *QueuedMailer) Run(ctx context.Context) {
	for {
		j, ok, err := q.queue.pop(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			q.log.WithError(err).Error("mail queue pop failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}
		q.deliver(ctx, j)
	}
}

func (q *QueuedMailer) deliver(ctx context.Context, j job) {
	sendCtx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()
	if err := q.inner.SendRecoveryCode(sendCtx, j.ToEmail, j.Code, time.Duration(j.ExpiresIn)); err != nil {
		// no retry; the user can ask for a new code
		q.log.WithError(err).WithField("to", j.ToEmail).Error("recovery mail not delivered")
	}
}

type memoryQueue struct {
	jobs chan job
}

func (m *memoryQueue) push(_ context.Context, j job) error {
	select {
	case m.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *memoryQueue) pop(ctx context.Context) (job, bool, error) {
	select {
	case <-ctx.Done():
		return job{}, false, ctx.Err()
	case j := <-m.jobs:
		return j, true, nil
	}
}

// enqueueScript pushes ARGV[2] unless the list already holds ARGV[1] entries. Returns 1 when pushed.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

type redisQueue struct {
	rdb *redis.Client
	max int64
}

func (r *redisQueue) push(ctx context.Context, j job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal mail job: %w", err)
	}
	pushed, err := enqueueScript.Run(ctx, r.rdb, []string{QueueKey}, r.max, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueue mail job: %w", err)
	}
	if pushed == 0 {
		return ErrQueueFull
	}
	return nil
}

func (r *redisQueue) pop(ctx context.Context) (job, bool, error) {
	// a short block keeps the worker responsive to cancellation
	res, err := r.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
	if errors.Is(err, redis.Nil) {
		return job{}, false, nil
	}
	if err != nil {
		return job{}, false, err
	}
	var j job
	if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
		return job{}, false, fmt.Errorf("decode mail job: %w", err)
	}
	return j, true, nil
}
