package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-pipeline/internal/service"
)

func newRedisQueue(t *testing.T) (service.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	low, normal, high := service.LanesFor("jobs:queue", "jobs:processing")
	return service.NewRedisPriorityQueue(rdb, "jobs:processing:map", low, normal, high), mr
}

func TestRedisQueue_ClaimsByPriority(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "low-1", service.PriorityLow))
	require.NoError(t, q.Enqueue(ctx, "high-1", service.PriorityHigh))
	require.NoError(t, q.Enqueue(ctx, "clamped-1", 7)) // lands in the high lane

	var got []string
	for i := 0; i < 3; i++ {
		id, err := q.ClaimBlocking(ctx, 2*time.Second)
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"high-1", "clamped-1", "low-1"}, got)

	processing, err := mr.List("jobs:processing:high")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"high-1", "clamped-1"}, processing)

	require.NoError(t, q.Ack(ctx, "high-1"))
	processing, err = mr.List("jobs:processing:high")
	require.NoError(t, err)
	assert.Equal(t, []string{"clamped-1"}, processing)
}

func TestRedisQueue_RequeueStale(t *testing.T) {
	q, mr := newRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", service.PriorityNormal))
	id, err := q.ClaimBlocking(ctx, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)

	n, err := q.RequeueStale(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	queued, err := mr.List("jobs:queue:normal")
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, queued)
	assert.False(t, mr.Exists("jobs:processing:normal"))
}

func TestRedisQueue_AckWithoutMapping(t *testing.T) {
	q, _ := newRedisQueue(t)
	assert.NoError(t, q.Ack(context.Background(), "unknown"))
}

func TestRedisQueue_ClaimTimesOut(t *testing.T) {
	q, _ := newRedisQueue(t)
	_, err := q.ClaimBlocking(context.Background(), 150*time.Millisecond)
	assert.ErrorIs(t, err, service.ErrQueueEmpty)
}

func TestMemoryQueue_PriorityAndRequeue(t *testing.T) {
	q := service.NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "low", service.PriorityLow))
	require.NoError(t, q.Enqueue(ctx, "high", service.PriorityHigh))

	id, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "high", id)

	n, err := q.RequeueStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, q.Len())

	id, err = q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "high", id)
	require.NoError(t, q.Ack(ctx, id))

	n, err = q.RequeueStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestMemoryQueue_ClaimTimesOutAndWakes(t *testing.T) {
	q := service.NewMemoryQueue()
	ctx := context.Background()

	_, err := q.ClaimBlocking(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, service.ErrQueueEmpty)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, "late", service.PriorityNormal)
	}()
	id, err := q.ClaimBlocking(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", id)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.ClaimBlocking(cctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
