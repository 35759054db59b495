package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"moderation-pipeline/internal/entity"
)

var (
	// ErrQueueUnavailable is returned by Publish while the broker
	// connection is down.
	ErrQueueUnavailable = errors.New("work queue unavailable")

	// ErrNoWork means the claim timed out with nothing to consume.
	ErrNoWork = errors.New("no work available")
)

// Queue is the durable at-least-once channel between ingestion and the
// workers. The payload is the message: Publish serializes a WorkItem
// into the list element, ClaimBlocking moves one element to the
// processing list, and Ack removes exactly that payload. Unacked
// payloads stay in processing until RequeueStale moves them back.
type Queue interface {
	Publish(ctx context.Context, item entity.WorkItem) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, payload string) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	superviseInterval = 5 * time.Second
	pingTimeout       = 2 * time.Second
)

// redisCommands is the slice of the Redis API the queue drives.
// *redis.Client satisfies it.
type redisCommands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	RPopLPush(ctx context.Context, source, destination string) *redis.StringCmd
	Close() error
}

// redisWorkQueue implements a reliable queue on Redis lists.
// Publish: LPUSH queueKey
// Claim:   BRPOPLPUSH queueKey -> processingKey
// Ack:     LREM processingKey
// Requeue: RPOPLPUSH processingKey -> queueKey
//
// A supervisor goroutine pings the broker on a fixed interval and
// maintains a readiness flag, giving the connection an explicit
// connect -> ready -> closed lifecycle instead of assuming the handle
// is always valid.
type redisWorkQueue struct {
	rdb           redisCommands
	queueKey      string
	processingKey string
	log           *zap.Logger

	pingEvery time.Duration
	ready     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func NewRedisWorkQueue(rdb *redis.Client, queueKey, processingKey string, log *zap.Logger) Queue {
	q := newWorkQueue(rdb, queueKey, processingKey, log)
	go q.supervise()
	return q
}

func newWorkQueue(rdb redisCommands, queueKey, processingKey string, log *zap.Logger) *redisWorkQueue {
	q := &redisWorkQueue{
		rdb:           rdb,
		queueKey:      queueKey,
		processingKey: processingKey,
		log:           log,
		pingEvery:     superviseInterval,
		done:          make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	q.ready.Store(rdb.Ping(ctx).Err() == nil)
	cancel()

	return q
}

func (q *redisWorkQueue) supervise() {
	ticker := time.NewTicker(q.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			err := q.rdb.Ping(ctx).Err()
			cancel()

			was := q.ready.Swap(err == nil)
			switch {
			case was && err != nil:
				q.log.Warn("queue connection lost, retrying",
					zap.Duration("retry_interval", q.pingEvery),
					zap.Error(err))
			case !was && err == nil:
				q.log.Info("queue connection restored")
			}
		}
	}
}

func (q *redisWorkQueue) Publish(ctx context.Context, item entity.WorkItem) error {
	if !q.ready.Load() {
		return ErrQueueUnavailable
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encode work item")
	}

	if err := q.rdb.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		q.ready.Store(false)
		return errors.Wrapf(ErrQueueUnavailable, "publish: %v", err)
	}
	return nil
}

func (q *redisWorkQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	payload, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoWork
		}
		return "", errors.Wrap(err, "claim work item")
	}
	return payload, nil
}

func (q *redisWorkQueue) Ack(ctx context.Context, payload string) error {
	if err := q.rdb.LRem(ctx, q.processingKey, 1, payload).Err(); err != nil {
		return errors.Wrap(err, "ack work item")
	}
	return nil
}

// RequeueStale moves in-flight payloads back onto the queue, at most
// max per call. Anything a worker claimed but never acked (crash, lost
// connection, store-write failure) comes back through here.
func (q *redisWorkQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	var moved int64
	for i := int64(0); i < max; i++ {
		_, err := q.rdb.RPopLPush(ctx, q.processingKey, q.queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return moved, errors.Wrap(err, "requeue stale")
		}
		moved++
	}
	return moved, nil
}

func (q *redisWorkQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *redisWorkQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return q.rdb.Close()
}

// DecodeWorkItem parses a raw queue payload back into a WorkItem.
func DecodeWorkItem(payload string) (entity.WorkItem, error) {
	var item entity.WorkItem
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return entity.WorkItem{}, errors.Wrap(err, "decode work item")
	}
	return item, nil
}
