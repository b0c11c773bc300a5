package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ErrQueueEmpty is returned by ClaimBlocking when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

type Queue interface {
	Enqueue(ctx context.Context, jobID string, priority int) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	RequeueStale(ctx context.Context, maxPerLane int64) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// LanesFor derives the low/normal/high lanes from base key names.
func LanesFor(queueKey, processingKey string) (low, normal, high Lane) {
	lane := func(suffix string) Lane {
		return Lane{QueueKey: queueKey + ":" + suffix, ProcessingKey: processingKey + ":" + suffix}
	}
	return lane("low"), lane("normal"), lane("high")
}

func ClampPriority(p int) int {
	if p < PriorityLow {
		return PriorityLow
	}
	if p > PriorityHigh {
		return PriorityHigh
	}
	return p
}

// redisPriorityQueue is a reliable priority queue of job ids on Redis lists.
// Claim moves an id from lane.queue to lane.processing (BRPOPLPUSH) and
// records the lane in processingMapKey so Ack can remove it again.
type redisPriorityQueue struct {
	rdb              *redis.Client
	processingMapKey string

	// highest priority first
	lanes [3]Lane
	poll  time.Duration
}

func NewRedisPriorityQueue(rdb *redis.Client, processingMapKey string, low, normal, high Lane) Queue {
	return &redisPriorityQueue{
		rdb:              rdb,
		processingMapKey: processingMapKey,
		lanes:            [3]Lane{high, normal, low},
		poll:             100 * time.Millisecond,
	}
}

func (q *redisPriorityQueue) laneByPriority(p int) Lane {
	return q.lanes[PriorityHigh-ClampPriority(p)]
}

func (q *redisPriorityQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	return q.rdb.LPush(ctx, q.laneByPriority(priority).QueueKey, jobID).Err()
}

// ClaimBlocking sweeps the lanes high to normal to low and, when all are
// empty, sleeps one poll interval before the next sweep. timeout <= 0 waits
// until ctx ends.
func (q *redisPriorityQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		id, ok, err := q.sweep(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return "", ErrQueueEmpty
		case <-time.After(q.poll):
		}
	}
}

func (q *redisPriorityQueue) sweep(ctx context.Context) (string, bool, error) {
	for _, ln := range q.lanes {
		id, err := q.rdb.RPopLPush(ctx, ln.QueueKey, ln.ProcessingKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return "", false, err
		}
		if hErr := q.rdb.HSet(ctx, q.processingMapKey, id, ln.ProcessingKey).Err(); hErr != nil {
			// without the mapping Ack cannot find the id; the reaper will requeue it
			return "", false, hErr
		}
		return id, true, nil
	}
	return "", false, nil
}

func (q *redisPriorityQueue) Ack(ctx context.Context, jobID string) error {
	processingKey, err := q.rdb.HGet(ctx, q.processingMapKey, jobID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return err
		}
		// no mapping: remove from every lane
		for _, ln := range q.lanes {
			if lErr := q.rdb.LRem(ctx, ln.ProcessingKey, 1, jobID).Err(); lErr != nil {
				log.WithError(lErr).WithField("job_id", jobID).Warn("ack: lrem")
			}
		}
		return nil
	}

	if err := q.rdb.LRem(ctx, processingKey, 1, jobID).Err(); err != nil {
		return err
	}
	return q.rdb.HDel(ctx, q.processingMapKey, jobID).Err()
}

// RequeueStale moves up to maxPerLane ids per lane from processing back to
// the queue. Delivery is at-least-once.
func (q *redisPriorityQueue) RequeueStale(ctx context.Context, maxPerLane int64) (int64, error) {
	var moved int64

	for _, ln := range q.lanes {
		for i := int64(0); i < maxPerLane; i++ {
			id, err := q.rdb.RPopLPush(ctx, ln.ProcessingKey, ln.QueueKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					break
				}
				return moved, err
			}
			moved++
			_ = q.rdb.HDel(ctx, q.processingMapKey, id).Err()
		}
	}

	return moved, nil
}
